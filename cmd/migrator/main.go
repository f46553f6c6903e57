// Command migrator creates the audit archive schema. The gateway also
// migrates on startup; this binary exists for deployments where schema
// changes are applied by a separate, privileged job.
package main

import (
	"context"
	"log"
	"time"

	"aegis/pkg/audit"
	"aegis/pkg/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type migrationDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type migratorDBCloser interface {
	migrationDB
	Close()
}

// Testable variables for main()
var (
	logFatalf = log.Fatalf
	openDBFn  = func(ctx context.Context) (migratorDBCloser, error) {
		return store.NewPostgresPool(ctx)
	}
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := openDBFn(ctx)
	if err != nil {
		logFatalf("db: %v", err)
		return
	}
	defer pool.Close()

	if err := runMigration(ctx, pool); err != nil {
		logFatalf("migration: %v", err)
		return
	}
	log.Printf("audit archive schema up to date")
}

func runMigration(ctx context.Context, db migrationDB) error {
	archive := &audit.PostgresArchive{DB: db}
	return archive.Migrate(ctx)
}
