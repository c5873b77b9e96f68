// Package store keeps the per-project extraction ledger in an SQLite file
// under the project's state directory. Re-running a batch against the same
// store is always safe: equal records are no-ops and supersede markers
// archive rather than delete.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const dbFileName = "state.db"

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	identity_key    TEXT PRIMARY KEY,
	provider        INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	competence      TEXT NOT NULL,
	doc_number      TEXT NOT NULL DEFAULT '',
	total_cents     INTEGER NOT NULL DEFAULT 0,
	inss_cents      INTEGER NOT NULL DEFAULT 0,
	iss_cents       INTEGER NOT NULL DEFAULT 0,
	iss_rate        REAL NOT NULL DEFAULT 0,
	worker_count    INTEGER NOT NULL DEFAULT 0,
	source          TEXT NOT NULL,
	method          TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT 'ACTIVE',
	superseded_by   TEXT NOT NULL DEFAULT '',
	needs_review    INTEGER NOT NULL DEFAULT 0,
	missing_fields  TEXT NOT NULL DEFAULT '',
	suspicious_zero INTEGER NOT NULL DEFAULT 0,
	source_path     TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL DEFAULT '',
	batch_id        TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_provider_comp ON ledger(provider, competence);
CREATE INDEX IF NOT EXISTS idx_ledger_doc ON ledger(provider, kind, doc_number);

CREATE TABLE IF NOT EXISTS ocr_queue (
	path       TEXT PRIMARY KEY,
	provider   INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	competence TEXT NOT NULL DEFAULT '',
	text_hash  TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	state      TEXT NOT NULL DEFAULT 'PENDING',
	last_error TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resolutions (
	identity_key TEXT PRIMARY KEY,
	choice       TEXT NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	resolved_at  TEXT NOT NULL
);
`

// Store wraps the project state database.
type Store struct {
	db    *sql.DB
	scope map[int]bool // nil = unrestricted
}

// Open opens (creating if needed) the state database under stateDir.
func Open(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", stateDir, err)
	}
	db, err := openDB(filepath.Join(stateDir, dbFileName))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for testing. MaxOpenConns(1) keeps
// every query on the same in-memory database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	db, err := openDB(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// SetBatchScope restricts upserts to the given provider numbers. A write
// for any other provider fails with ErrOutOfScope.
func (s *Store) SetBatchScope(providers []int) {
	s.scope = make(map[int]bool, len(providers))
	for _, p := range providers {
		s.scope[p] = true
	}
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

const maxTxRetries = 3

// isBusy reports whether err indicates an SQLITE_BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx executes fn inside a transaction, retrying on SQLITE_BUSY with
// 100/200/300 ms backoff.
func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxTxRetries-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100*(i+1)) * time.Millisecond):
		}
	}
	return fmt.Errorf("store: runTx: max retries exceeded")
}

func (s *Store) runOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
