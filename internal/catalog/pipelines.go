// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PipelineRunStatus tracks a single (pipeline_id, logical_date) run.
type PipelineRunStatus string

const (
	PipelineRunQueued PipelineRunStatus = "queued"
	PipelineRunNoOp   PipelineRunStatus = "no_op"
)

// Pipeline is one applied, versioned declarative pipeline definition.
// (name, version) is unique; the pipeline runner always resolves a
// name to its highest version.
type Pipeline struct {
	ID        int64
	Name      string
	Version   int64
	SpecID    int64
	Parser    string
	Output    sql.NullString
	Schedule  sql.NullString
	CreatedAt int64
}

// PipelineRun is one materialization of a Pipeline for a logical date.
type PipelineRun struct {
	ID          int64
	PipelineID  int64
	LogicalDate string
	SnapshotID  sql.NullInt64
	Status      PipelineRunStatus
	CreatedAt   int64
}

// EnsurePipelinesSchema creates the pipelines and pipeline_runs tables
// if absent.
func (s *Store) EnsurePipelinesSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pipelinesDDL); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, pipelineRunsDDL)
	return err
}

// NextPipelineVersion returns the version number one past the highest
// already applied for name (1 if none exists yet).
func (s *Store) NextPipelineVersion(ctx context.Context, name string) (int64, error) {
	var maxVersion sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM pipelines WHERE name = ?`, name).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("catalog: next pipeline version: %w", err)
	}
	if !maxVersion.Valid {
		return 1, nil
	}
	return maxVersion.Int64 + 1, nil
}

// InsertPipeline records a newly applied pipeline version and returns
// its id.
func (s *Store) InsertPipeline(ctx context.Context, p Pipeline) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pipelines (name, version, spec_id, parser, output, schedule, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.Version, p.SpecID, p.Parser, p.Output, p.Schedule, p.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert pipeline: %w", err)
	}
	return res.LastInsertId()
}

func scanPipeline(row interface {
	Scan(dest ...any) error
}) (*Pipeline, error) {
	var p Pipeline
	if err := row.Scan(&p.ID, &p.Name, &p.Version, &p.SpecID, &p.Parser, &p.Output, &p.Schedule, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

const pipelineColumns = `id, name, version, spec_id, parser, output, schedule, created_at`

// LatestPipeline resolves name to its highest-version row.
func (s *Store) LatestPipeline(ctx context.Context, name string) (*Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pipelineColumns+` FROM pipelines WHERE name = ? ORDER BY version DESC LIMIT 1
	`, name)
	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: latest pipeline: %w", err)
	}
	return p, nil
}

// GetPipelineRun looks up an existing run for (pipeline_id,
// logical_date); used to enforce run-per-logical-date idempotency.
func (s *Store) GetPipelineRun(ctx context.Context, pipelineID int64, logicalDate string) (*PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, logical_date, snapshot_id, status, created_at
		FROM pipeline_runs WHERE pipeline_id = ? AND logical_date = ?
	`, pipelineID, logicalDate)
	var r PipelineRun
	var statusStr string
	err := row.Scan(&r.ID, &r.PipelineID, &r.LogicalDate, &r.SnapshotID, &statusStr, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get pipeline run: %w", err)
	}
	r.Status = PipelineRunStatus(statusStr)
	return &r, nil
}

// InsertPipelineRun records a new run for (pipeline_id, logical_date).
// The unique constraint on that pair is the idempotency guard: a
// second insert for the same pair fails, and callers must check
// GetPipelineRun first.
func (s *Store) InsertPipelineRun(ctx context.Context, pipelineID int64, logicalDate string, snapshotID *int64, status PipelineRunStatus, nowMs int64) (int64, error) {
	var snap sql.NullInt64
	if snapshotID != nil {
		snap = sql.NullInt64{Int64: *snapshotID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (pipeline_id, logical_date, snapshot_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, pipelineID, logicalDate, snap, string(status), nowMs)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert pipeline run: %w", err)
	}
	return res.LastInsertId()
}
