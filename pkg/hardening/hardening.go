// Package hardening refuses insecure gateway configurations in
// production-like environments. Development and test environments are
// exempt; strict mode can be disabled explicitly but defaults on.
package hardening

import (
	"fmt"
	"strings"
)

type Options struct {
	Service              string
	Environment          string
	StrictProdSecurity   string
	DatabaseEnabled      bool
	DatabaseRequireTLS   string
	RedisAddr            string
	RedisRequireTLS      string
	RedisTLSSkipVerify   string
	AllowedOrigins       []string
	AdminToken           string
	AuthTokensConfigured bool
}

// ValidateProduction rejects configurations that would run a production
// gateway with open admission, anonymous admin routes, or plaintext
// backends.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	if strings.TrimSpace(o.AdminToken) == "" {
		return fmt.Errorf("%s: strict production hardening requires an admin token", service)
	}
	if !o.AuthTokensConfigured {
		return fmt.Errorf("%s: strict production hardening requires configured auth tokens", service)
	}
	if o.DatabaseEnabled && !isTrue(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires AEGIS_DATABASE_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !isTrue(o.RedisRequireTLS, false) {
			return fmt.Errorf("%s: strict production hardening requires AEGIS_REDIS_REQUIRE_TLS=true", service)
		}
		if isTrue(o.RedisTLSSkipVerify, false) {
			return fmt.Errorf("%s: strict production hardening forbids AEGIS_REDIS_TLS_SKIP_VERIFY", service)
		}
	}
	return validateOrigins(o.AllowedOrigins, service)
}

func validateOrigins(origins []string, service string) error {
	validCount := 0
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		validCount++
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("%s: strict production hardening forbids CORS wildcard origin", service)
		}
		if strings.HasPrefix(lower, "http://localhost") || strings.HasPrefix(lower, "https://localhost") || strings.HasPrefix(lower, "http://127.0.0.1") || strings.HasPrefix(lower, "https://127.0.0.1") {
			return fmt.Errorf("%s: strict production hardening forbids localhost CORS origin %q", service, o)
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, o)
		}
	}
	if validCount == 0 {
		return fmt.Errorf("%s: strict production hardening requires explicit allowed origins", service)
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
