package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeDB struct {
	execSQL []string
	execErr error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (f *fakeDB) Close() {}

func TestRunMigration(t *testing.T) {
	db := &fakeDB{}
	if err := runMigration(context.Background(), db); err != nil {
		t.Fatalf("migration: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "audit_entries") {
		t.Fatalf("unexpected DDL: %v", db.execSQL)
	}
}

func TestRunMigrationError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("permission denied")}
	if err := runMigration(context.Background(), db); err == nil {
		t.Fatal("exec failure must surface")
	}
}

func TestMainReportsDBFailure(t *testing.T) {
	origOpen, origFatal := openDBFn, logFatalf
	defer func() { openDBFn, logFatalf = origOpen, origFatal }()

	openDBFn = func(ctx context.Context) (migratorDBCloser, error) {
		return nil, errors.New("connection refused")
	}
	var fatalMsg string
	logFatalf = func(format string, v ...interface{}) {
		fatalMsg = format
	}
	main()
	if !strings.Contains(fatalMsg, "db") {
		t.Fatalf("expected db failure path, got %q", fatalMsg)
	}
}
