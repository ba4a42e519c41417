// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"
)

// Backend names one of the two interchangeable storage engines.
type Backend string

const (
	// BackendSQLite is the embedded row store with WAL, for
	// single-writer/multi-reader durability on modest file counts.
	BackendSQLite Backend = "sqlite"

	// BackendDuckDB is the embedded single-writer columnar store,
	// for analytical reads over large catalogs.
	BackendDuckDB Backend = "duckdb"
)

// CurrentSchemaVersion is bumped whenever a catalog table's shape
// changes in a way that is not forward compatible. A mismatch triggers
// a development-mode reset (see ensureSchemaVersion).
const CurrentSchemaVersion = 1

// Store is the catalog's single entry point: sources, scanned files,
// tagging rules, the job queue, plugin/topic config, and selection
// spec/snapshot tables, fronted by a backend-neutral Value type.
type Store struct {
	db      *sql.DB
	backend Backend
	path    string
	lock    *FileLock
	log     *slog.Logger
}

// Open opens (creating if absent) the catalog at path using backend,
// acquires the process lock appropriate to the backend, and runs the
// schema-version gate. The caller must call Close.
func Open(ctx context.Context, path string, backend Backend, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lock := NewFileLock(path)
	var lockErr error
	switch backend {
	case BackendDuckDB:
		// Single writer: the columnar backend takes an exclusive lock.
		lockErr = lock.TryExclusive()
	case BackendSQLite:
		// WAL allows concurrent readers; take a shared lock so a
		// concurrent exclusive (duckdb-style) open is still refused.
		lockErr = lock.TryShared()
	default:
		return nil, fmt.Errorf("catalog: unknown backend %q", backend)
	}
	if lockErr != nil {
		return nil, lockErr
	}

	driverName, dsn := driverFor(backend, path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("catalog: open %s: %w", backend, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		lock.Release()
		return nil, fmt.Errorf("catalog: ping %s: %w", backend, err)
	}

	if backend == BackendSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=10000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				lock.Release()
				return nil, fmt.Errorf("catalog: set %s: %w", pragma, err)
			}
		}
	}

	s := &Store{db: db, backend: backend, path: path, lock: lock, log: logger}
	if err := s.ensureSchemaVersion(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("catalog.opened", "backend", string(backend), "path", path)
	return s, nil
}

func driverFor(backend Backend, path string) (driverName, dsn string) {
	switch backend {
	case BackendDuckDB:
		return "duckdb", path
	default:
		return "sqlite", path
	}
}

// Backend reports which engine this Store is backed by.
func (s *Store) Backend() Backend { return s.backend }

// Close releases the database handle and the process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.Release()
	return err
}

// Exec runs a mutating statement.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Query runs a read statement.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read statement expected to return at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back (swallowing the rollback error, which is expected once
// the transaction already failed) otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit tx: %w", err)
	}
	return nil
}
