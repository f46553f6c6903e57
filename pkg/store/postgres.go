package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultDatabaseURL = "postgres://aegis@localhost:5432/aegis?sslmode=disable"

// Swappable for tests; the backoff also keeps gateway startup from
// flapping while the database container is still coming up.
var (
	pgxConnect      = pgxpool.NewWithConfig
	connectAttempts = 10
	connectBackoff  = time.Second
	pingTimeout     = 2 * time.Second
	sleepFn         = time.Sleep
)

// NewPostgresPool opens the audit archive pool from AEGIS_DATABASE_URL,
// retrying until the database answers a ping.
func NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := envStr("AEGIS_DATABASE_URL", defaultDatabaseURL)
	if envBool("AEGIS_DATABASE_REQUIRE_TLS") {
		if err := requireTLSMode(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		pool, err := pgxConnect(ctx, cfg)
		if err != nil {
			lastErr = err
			sleepFn(connectBackoff)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
		sleepFn(connectBackoff)
	}
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", connectAttempts, lastErr)
}

func requireTLSMode(dsn string) error {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("AEGIS_DATABASE_URL: %w", err)
	}
	switch strings.ToLower(parsed.Query().Get("sslmode")) {
	case "require", "verify-ca", "verify-full":
		return nil
	default:
		return fmt.Errorf("AEGIS_DATABASE_REQUIRE_TLS is set but sslmode=%q does not enforce TLS", parsed.Query().Get("sslmode"))
	}
}
