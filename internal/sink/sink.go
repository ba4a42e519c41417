// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package sink implements the pluggable output writers a worker
// commits Arrow batches to: Parquet, DuckDB, and relational
// (Postgres/MSSQL) engines sharing one staged-table idempotent commit
// contract: init, write_batch, prepare, commit|rollback.
//
// Sink is a tagged variant rather than an interface: exactly one of
// its engine fields is populated, and every method switches on Kind to
// dispatch monomorphically instead of through a vtable.
package sink

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/casparianhq/flow/internal/catalog"
)

// Sink is the capability set {init, write_batch, prepare, commit,
// rollback} realized as a tagged union over the three concrete
// engines this build ships.
type Sink struct {
	Kind catalog.SinkType

	parquet    *parquetEngine
	duckdb     *duckdbEngine
	relational *relationalEngine
}

// Config names where and how a sink writes, resolved from a
// catalog.TopicConfig plus the running job's identity.
type Config struct {
	Topic           catalog.TopicConfig
	JobID           int64
	ControlPlaneDB  string // absolute path of the catalog DB file; DuckDB sinks refuse to collide with it.
	ParquetOutDir   string // root directory parquet sinks stage/commit under.
}

// New resolves cfg.Topic.SinkType to a concrete engine.
func New(cfg Config) (*Sink, error) {
	switch cfg.Topic.SinkType {
	case catalog.SinkTypeParquet:
		return &Sink{Kind: catalog.SinkTypeParquet, parquet: newParquetEngine(cfg)}, nil
	case catalog.SinkTypeDuckDB:
		eng, err := newDuckDBEngine(cfg)
		if err != nil {
			return nil, err
		}
		return &Sink{Kind: catalog.SinkTypeDuckDB, duckdb: eng}, nil
	case catalog.SinkTypePostgres, catalog.SinkTypeSQLServer:
		eng, err := newRelationalEngine(cfg)
		if err != nil {
			return nil, err
		}
		return &Sink{Kind: cfg.Topic.SinkType, relational: eng}, nil
	default:
		return nil, fmt.Errorf("sink: unknown sink type %q", cfg.Topic.SinkType)
	}
}

// Init prepares the sink to receive batches matching schema: it stages
// whatever table/file the commit will later promote.
func (s *Sink) Init(ctx context.Context, schema *arrow.Schema) error {
	switch s.Kind {
	case catalog.SinkTypeParquet:
		return s.parquet.Init(ctx, schema)
	case catalog.SinkTypeDuckDB:
		return s.duckdb.Init(ctx, schema)
	default:
		return s.relational.Init(ctx, schema)
	}
}

// WriteBatch appends one Arrow record batch to the staged output.
func (s *Sink) WriteBatch(ctx context.Context, rec arrow.Record) error {
	switch s.Kind {
	case catalog.SinkTypeParquet:
		return s.parquet.WriteBatch(ctx, rec)
	case catalog.SinkTypeDuckDB:
		return s.duckdb.WriteBatch(ctx, rec)
	default:
		return s.relational.WriteBatch(ctx, rec)
	}
}

// Prepare flushes any buffered writes ahead of commit.
func (s *Sink) Prepare(ctx context.Context) error {
	switch s.Kind {
	case catalog.SinkTypeParquet:
		return s.parquet.Prepare(ctx)
	case catalog.SinkTypeDuckDB:
		return s.duckdb.Prepare(ctx)
	default:
		return s.relational.Prepare(ctx)
	}
}

// Commit atomically promotes the staged output to its target,
// following the topic's WriteMode.
func (s *Sink) Commit(ctx context.Context) error {
	switch s.Kind {
	case catalog.SinkTypeParquet:
		return s.parquet.Commit(ctx)
	case catalog.SinkTypeDuckDB:
		return s.duckdb.Commit(ctx)
	default:
		return s.relational.Commit(ctx)
	}
}

// Rollback discards the staged output. Idempotent: calling it after a
// successful commit, or more than once, is a no-op rather than an
// error.
func (s *Sink) Rollback(ctx context.Context) error {
	switch s.Kind {
	case catalog.SinkTypeParquet:
		return s.parquet.Rollback(ctx)
	case catalog.SinkTypeDuckDB:
		return s.duckdb.Rollback(ctx)
	default:
		return s.relational.Rollback(ctx)
	}
}

// Close releases any held connections or file handles.
func (s *Sink) Close() error {
	switch s.Kind {
	case catalog.SinkTypeDuckDB:
		return s.duckdb.Close()
	case catalog.SinkTypePostgres, catalog.SinkTypeSQLServer:
		return s.relational.Close()
	case catalog.SinkTypeParquet:
		// Prepare has already closed the stage file on the commit path;
		// this closes it when the job stopped before Prepare.
		if s.parquet.file != nil {
			_ = s.parquet.file.Close()
		}
		return nil
	default:
		return nil
	}
}

// CommitAll commits every sink in order; if any fails, every sink
// (including ones not yet committed) is asked to roll back, and the
// first commit error is returned. A job writing to multiple sinks
// treats commit as best-effort per sink.
func CommitAll(ctx context.Context, sinks []*Sink) error {
	var firstErr error
	for _, s := range sinks {
		if err := s.Prepare(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: prepare: %w", err)
		}
	}
	if firstErr != nil {
		RollbackAll(ctx, sinks)
		return firstErr
	}
	for _, s := range sinks {
		if err := s.Commit(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: commit: %w", err)
		}
	}
	if firstErr != nil {
		RollbackAll(ctx, sinks)
	}
	return firstErr
}

// RollbackAll asks every sink to roll back, swallowing individual
// errors (rollback is a best-effort cleanup of an already-failed job).
func RollbackAll(ctx context.Context, sinks []*Sink) {
	for _, s := range sinks {
		_ = s.Rollback(ctx)
	}
}
