package hardening

import "testing"

func TestValidateProduction(t *testing.T) {
	base := Options{
		Service:              "gateway",
		Environment:          "production",
		StrictProdSecurity:   "true",
		DatabaseEnabled:      true,
		DatabaseRequireTLS:   "true",
		RedisAddr:            "redis:6379",
		RedisRequireTLS:      "true",
		AllowedOrigins:       []string{"https://console.example.com"},
		AdminToken:           "root-token",
		AuthTokensConfigured: true,
	}

	t.Run("pass", func(t *testing.T) {
		if err := ValidateProduction(base); err != nil {
			t.Fatalf("expected pass, got %v", err)
		}
	})

	t.Run("non_prod_skip", func(t *testing.T) {
		o := base
		o.Environment = "development"
		o.AdminToken = ""
		o.AllowedOrigins = []string{"*"}
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected skip in non-production, got %v", err)
		}
	})

	t.Run("admin_token_required", func(t *testing.T) {
		o := base
		o.AdminToken = " "
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected admin token enforcement error")
		}
	})

	t.Run("auth_tokens_required", func(t *testing.T) {
		o := base
		o.AuthTokensConfigured = false
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected auth token enforcement error")
		}
	})

	t.Run("db_tls_required", func(t *testing.T) {
		o := base
		o.DatabaseRequireTLS = "false"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected database TLS enforcement error")
		}
	})

	t.Run("db_tls_skipped_when_disabled", func(t *testing.T) {
		o := base
		o.DatabaseEnabled = false
		o.DatabaseRequireTLS = "false"
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("db tls must not apply without a database, got %v", err)
		}
	})

	t.Run("redis_tls_required", func(t *testing.T) {
		o := base
		o.RedisRequireTLS = "false"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected redis TLS enforcement error")
		}
	})

	t.Run("redis_skip_verify_forbidden", func(t *testing.T) {
		o := base
		o.RedisTLSSkipVerify = "true"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected skip-verify redis flag error")
		}
	})

	t.Run("cors_wildcard_forbidden", func(t *testing.T) {
		o := base
		o.AllowedOrigins = []string{"*"}
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected wildcard CORS error")
		}
	})

	t.Run("cors_https_required", func(t *testing.T) {
		o := base
		o.AllowedOrigins = []string{"http://console.example.com"}
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected https CORS error")
		}
	})

	t.Run("origins_required", func(t *testing.T) {
		o := base
		o.AllowedOrigins = nil
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected explicit origins error")
		}
	})

	t.Run("strict_can_be_disabled", func(t *testing.T) {
		o := base
		o.StrictProdSecurity = "false"
		o.AdminToken = ""
		o.AllowedOrigins = []string{"*"}
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected strict disable skip, got %v", err)
		}
	})
}
