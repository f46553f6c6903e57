// Package store opens the gateway's optional backing stores. Redis backs
// the shared rate limiter and the replay cache, Postgres backs the audit
// archive. Both are configured through AEGIS_* environment variables and
// the gateway runs without either.
package store

import (
	"os"
	"strings"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
