package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

type archiveDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresArchive is the durable full-history store behind the bounded
// in-memory log. Rows are written at append time and never updated.
type PostgresArchive struct {
	DB archiveDB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id          TEXT PRIMARY KEY,
    seq         BIGINT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL,
    event       JSONB NOT NULL,
    event_hash  TEXT NOT NULL,
    chain_hash  TEXT NOT NULL,
    btc_height  BIGINT,
    btc_hash    TEXT
);
CREATE INDEX IF NOT EXISTS audit_entries_seq_idx ON audit_entries (seq);
`

func (a *PostgresArchive) Migrate(ctx context.Context) error {
	_, err := a.DB.Exec(ctx, archiveSchema)
	return err
}

func (a *PostgresArchive) Store(ctx context.Context, entry Entry) error {
	eventRaw, err := json.Marshal(entry.Event)
	if err != nil {
		return err
	}
	var height *int64
	var hash *string
	if entry.Anchor != nil {
		h := int64(entry.Anchor.Height)
		height = &h
		hash = &entry.Anchor.Hash
	}
	_, err = a.DB.Exec(ctx, `
		INSERT INTO audit_entries (id, seq, ts, event, event_hash, chain_hash, btc_height, btc_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.Seq, entry.Timestamp, eventRaw, entry.EventHash, entry.ChainHash, height, hash)
	return err
}

// Entries returns the full archived history ordered by sequence number.
func (a *PostgresArchive) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := a.DB.Query(ctx, `
		SELECT id, seq, ts, event, event_hash, chain_hash, btc_height, btc_hash
		FROM audit_entries ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var eventRaw []byte
		var height *int64
		var hash *string
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.Seq, &ts, &eventRaw, &e.EventHash, &e.ChainHash, &height, &hash); err != nil {
			return nil, err
		}
		e.Timestamp = ts.UTC()
		if err := json.Unmarshal(eventRaw, &e.Event); err != nil {
			return nil, err
		}
		if height != nil && hash != nil {
			e.Anchor = &models.BTCAnchor{Height: uint64(*height), Hash: *hash}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyHistory replays the archived chain from the genesis hash. This is
// the full-history counterpart of Log.VerifyChain.
func VerifyHistory(genesis string, entries []Entry) bool {
	prev := genesis
	for _, e := range entries {
		eventHash, err := models.EventHash(e.Event)
		if err != nil || eventHash != e.EventHash {
			return false
		}
		if models.ChainHash(prev, e.EventHash, models.AnchorHash(e.Anchor)) != e.ChainHash {
			return false
		}
		prev = e.ChainHash
	}
	return true
}
