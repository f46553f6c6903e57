// Package config loads gateway configuration from an optional YAML file
// with environment-variable overrides. Defaults are usable out of the box:
// an empty config starts an open gateway with in-memory state only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"aegis/pkg/ratelimit"
)

type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

type LayerConfig struct {
	Name       string  `yaml:"name"`
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
}

type AnchorConfig struct {
	BaseURL         string `yaml:"base_url"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AdminToken     string   `yaml:"admin_token"`
	AuthTokens     []string `yaml:"auth_tokens"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	BlockedTerms    []string `yaml:"blocked_terms"`
	RedactSecrets   []string `yaml:"redact_secrets"`
	MaxPromptChars  int      `yaml:"max_prompt_chars"`
	ReplayTTLSecond int      `yaml:"replay_ttl_seconds"`

	CostPerKiloTokens float64 `yaml:"cost_per_kilo_tokens"`

	AuditCapacity         int     `yaml:"audit_capacity"`
	SessionTimeoutSeconds int     `yaml:"session_timeout_seconds"`
	TrustDecayRate        float64 `yaml:"trust_decay_rate"`

	RateLayers []LayerConfig    `yaml:"rate_layers"`
	Providers  []ProviderConfig `yaml:"providers"`
	Anchor     AnchorConfig     `yaml:"anchor"`
	Kafka      KafkaConfig      `yaml:"kafka"`

	UseRedis    bool `yaml:"use_redis"`
	UsePostgres bool `yaml:"use_postgres"`
}

func Default() Config {
	return Config{
		ListenAddr:            ":8080",
		CostPerKiloTokens:     0.002,
		AuditCapacity:         10000,
		SessionTimeoutSeconds: 3600,
		TrustDecayRate:        0.05,
		ReplayTTLSecond:       300,
	}
}

// Load reads path (when non-empty and present) over the defaults, then
// applies environment overrides. A missing file is an error only when the
// path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := env("AEGIS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := env("AEGIS_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
	if v := env("AEGIS_AUTH_TOKENS"); v != "" {
		c.AuthTokens = splitList(v)
	}
	if v := env("AEGIS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := env("AEGIS_ANCHOR_URL"); v != "" {
		c.Anchor.BaseURL = v
	}
	if v := env("AEGIS_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := env("AEGIS_KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := env("AEGIS_USE_REDIS"); v != "" {
		c.UseRedis = isTrue(v)
	}
	if v := env("AEGIS_USE_POSTGRES"); v != "" {
		c.UsePostgres = isTrue(v)
	}
	if v := env("AEGIS_AUDIT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.AuditCapacity = n
		}
	}
	if v := env("AEGIS_SESSION_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SessionTimeoutSeconds = n
		}
	}
	if v := env("AEGIS_COST_PER_KILO_TOKENS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.CostPerKiloTokens = f
		}
	}
}

func (c *Config) validate() error {
	if c.AuditCapacity <= 0 {
		return fmt.Errorf("audit_capacity must be positive")
	}
	if c.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("session_timeout_seconds must be positive")
	}
	if c.TrustDecayRate < 0 {
		return fmt.Errorf("trust_decay_rate must not be negative")
	}
	for _, l := range c.RateLayers {
		if l.Name == "" || l.Capacity <= 0 || l.RefillRate < 0 {
			return fmt.Errorf("invalid rate layer %+v", l)
		}
	}
	for _, p := range c.Providers {
		if p.Name == "" || p.BaseURL == "" {
			return fmt.Errorf("provider needs name and base_url: %+v", p)
		}
	}
	return nil
}

// Layers converts the configured rate layers, falling back to the
// standard five-layer stack when none are configured.
func (c *Config) Layers() []ratelimit.LayerConfig {
	if len(c.RateLayers) == 0 {
		return ratelimit.DefaultLayers()
	}
	out := make([]ratelimit.LayerConfig, 0, len(c.RateLayers))
	for _, l := range c.RateLayers {
		out = append(out, ratelimit.LayerConfig{Name: l.Name, Capacity: l.Capacity, RefillRate: l.RefillRate})
	}
	return out
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

func (c *Config) ReplayTTL() time.Duration {
	return time.Duration(c.ReplayTTLSecond) * time.Second
}

func (c *Config) AnchorInterval() time.Duration {
	if c.Anchor.IntervalSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Anchor.IntervalSeconds) * time.Second
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isTrue(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
