//go:build integration

package audit

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"aegis/pkg/models"
)

// TestArchiveWithRealPostgres round-trips entries through a real database
// and verifies the full history from genesis.
// Run with: go test -tags=integration -timeout 120s ./pkg/audit/...
func TestArchiveWithRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	archive := &PostgresArchive{DB: pool}
	if err := archive.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	l := NewLog(WithCapacity(2))
	var appended []Entry
	appended = append(appended, l.Log(models.RequestReceived("r1", "s1")))
	appended = append(appended, l.Log(models.RequestRouted("r1", "local")))
	appended = append(appended, l.Log(models.ResponseSent("r1", "local", 12)))
	appended = append(appended, l.Log(models.SessionEnded("s1")))
	for _, e := range appended {
		if err := archive.Store(ctx, e); err != nil {
			t.Fatalf("store: %v", err)
		}
		// Duplicate delivery must be tolerated.
		if err := archive.Store(ctx, e); err != nil {
			t.Fatalf("duplicate store: %v", err)
		}
	}

	history, err := archive.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 archived entries, got %d", len(history))
	}
	if !VerifyHistory(models.GenesisHash, history) {
		t.Fatalf("archived history must verify from genesis")
	}
	// The in-memory window only retains 2 entries but still verifies.
	if l.Len() != 2 || !l.VerifyChain() {
		t.Fatalf("bounded window must stay verifiable")
	}
}
