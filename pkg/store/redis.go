package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects using AEGIS_REDIS_* settings and verifies the server
// answers before handing the client out.
func NewRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func redisOptions() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     envStr("AEGIS_REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("AEGIS_REDIS_PASSWORD"),
	}
	if raw := envStr("AEGIS_REDIS_DB", ""); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("AEGIS_REDIS_DB: %w", err)
		}
		opts.DB = db
	}
	tlsCfg, err := redisTLS()
	if err != nil {
		return nil, err
	}
	if envBool("AEGIS_REDIS_REQUIRE_TLS") && tlsCfg == nil {
		return nil, fmt.Errorf("AEGIS_REDIS_REQUIRE_TLS is set but AEGIS_REDIS_TLS is off")
	}
	opts.TLSConfig = tlsCfg
	return opts, nil
}

func redisTLS() (*tls.Config, error) {
	if !envBool("AEGIS_REDIS_TLS") {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: envBool("AEGIS_REDIS_TLS_SKIP_VERIFY"),
		ServerName:         envStr("AEGIS_REDIS_TLS_SERVER_NAME", ""),
	}
	if caFile := envStr("AEGIS_REDIS_TLS_CA_FILE", ""); caFile != "" {
		pemBytes, err := os.ReadFile(filepath.Clean(caFile))
		if err != nil {
			return nil, fmt.Errorf("AEGIS_REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("AEGIS_REDIS_TLS_CA_FILE: no certificates in %s", caFile)
		}
		cfg.RootCAs = pool
	}
	certFile := envStr("AEGIS_REDIS_TLS_CERT_FILE", "")
	keyFile := envStr("AEGIS_REDIS_TLS_KEY_FILE", "")
	switch {
	case certFile == "" && keyFile == "":
	case certFile == "" || keyFile == "":
		return nil, fmt.Errorf("AEGIS_REDIS_TLS_CERT_FILE and AEGIS_REDIS_TLS_KEY_FILE must be set together")
	default:
		pair, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, fmt.Errorf("redis client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}
