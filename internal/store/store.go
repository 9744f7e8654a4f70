// Package store provides the SQLite-backed embedded store shared by every
// Port Daddy subsystem. One *Store is opened at daemon startup and injected
// into each subsystem constructor; there is no global handle.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	_ "modernc.org/sqlite"
)

// Store wraps the shared SQLite connection. Subsystems take the *sql.DB
// directly (via DB()) so each can hold its own prepared statements without
// this package knowing about every table.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at path, applying WAL mode, a 5s
// busy timeout, and foreign key enforcement, then runs schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite's sql.DB pool defaults to many connections, but a single
	// writer-serialized file benefits from one connection so writes don't
	// contend with themselves across goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		slog.Info("store opened", "path", path, "size", humanize.Bytes(uint64(info.Size())))
	}

	return s, nil
}

// DB returns the shared connection for subsystem-owned queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema migrations in order, tracking the applied version
// in a schema_version table. Safe to call on every startup.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("applying store migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}

	return nil
}
