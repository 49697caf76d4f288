// Package store provides durable local storage for tab telemetry: lifecycle
// events, per-tab metadata aggregates, and discard batch records.
//
// Telemetry is best-effort by design. Writes against a store whose
// connection cannot be established degrade to logged no-ops rather than
// surfacing errors, so a storage failure can never break the discard path.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (tab_id, kind) index on events
const currentSchemaVersion = 1

// Store wraps a SQLite database holding the three telemetry record families.
// Uses WAL mode for concurrent read access.
//
// The connection is established lazily: every operation goes through conn(),
// which dials on first use and re-dials transparently after a lost
// connection. Concurrent callers converge on a single *sql.DB.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// New creates a Store for the database at path without connecting.
// The first operation (or an explicit Connect) establishes the connection.
func New(path string) *Store {
	return &Store{path: path}
}

// Open creates a Store and eagerly establishes its connection.
// Applies required pragmas and migrations. Idempotent at the file level -
// safe to call against an existing database.
func Open(ctx context.Context, path string) (*Store, error) {
	s := New(path)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect establishes the database connection if one is not already open.
// Safe for concurrent callers: all of them resolve once a single shared
// connection is ready. Open failure is surfaced to the caller; subsequent
// operations will retry transparently.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

// Ready reports whether the store connection is currently established.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Close closes the connection. The store transitions to not-ready; a later
// operation re-establishes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// conn returns the shared connection, dialing if necessary.
// Held mutex serializes concurrent dial attempts onto one *sql.DB.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY between the tracker loop and the discard pass.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s.db = db
	slog.Debug("telemetry store connected", "path", s.path)
	return s.db, nil
}

// checkConn probes a connection after an operation error. A failed ping
// means the connection is gone (external close, file removed): drop it so
// the next operation re-establishes transparently. Ordinary statement errors
// leave the connection alone.
func (s *Store) checkConn(ctx context.Context, db *sql.DB) {
	if db.PingContext(ctx) == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == db {
		s.db.Close()
		s.db = nil
		slog.Warn("telemetry store connection lost", "path", s.path)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the (tab_id, kind) index for databases created before the
// index was part of schema.sql. CREATE INDEX IF NOT EXISTS is a no-op on new
// databases.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_tab_kind
		ON events(tab_id, kind)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// ClearAll empties every record family and the runtime state.
func (s *Store) ClearAll(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("clear all: %w", err)
	}

	for _, table := range []string{"events", "metadata", "discard_batches", "runtime_state"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return nil
}
