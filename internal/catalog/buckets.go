// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// QuarantinedFile records one file pulled out of normal processing,
// with the reason it was set aside.
type QuarantinedFile struct {
	ID        int64
	FileID    int64
	JobID     sql.NullInt64
	Reason    string
	CreatedAt int64
}

// SchemaMismatch records one explicit schema violation: a parser
// emitted an output whose schema hash disagreed with the manifest.
// Mismatched jobs land here instead of the retry path, since rerunning
// the same parser against the same manifest cannot change the outcome.
type SchemaMismatch struct {
	ID           int64
	JobID        int64
	PluginName   string
	OutputName   string
	ExpectedHash string
	ActualHash   string
	CreatedAt    int64
}

// EnsureBucketsSchema creates the quarantine and schema_mismatches
// tables if absent.
func (s *Store) EnsureBucketsSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, quarantineDDL); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, schemaMismatchesDDL)
	return err
}

// Quarantine sets a file aside. jobID may be nil when the quarantine
// is not tied to a specific job attempt.
func (s *Store) Quarantine(ctx context.Context, fileID int64, jobID *int64, reason string, nowMs int64) (int64, error) {
	var jid sql.NullInt64
	if jobID != nil {
		jid = sql.NullInt64{Int64: *jobID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine (file_id, job_id, reason, created_at) VALUES (?, ?, ?, ?)
	`, fileID, jid, reason, nowMs)
	if err != nil {
		return 0, fmt.Errorf("catalog: quarantine file %d: %w", fileID, err)
	}
	return res.LastInsertId()
}

// ListQuarantined returns every quarantined file, newest first.
func (s *Store) ListQuarantined(ctx context.Context) ([]QuarantinedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, job_id, reason, created_at FROM quarantine ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list quarantine: %w", err)
	}
	defer rows.Close()

	var out []QuarantinedFile
	for rows.Next() {
		var q QuarantinedFile
		if err := rows.Scan(&q.ID, &q.FileID, &q.JobID, &q.Reason, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan quarantine row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// RecordSchemaMismatch files one schema violation for a job.
func (s *Store) RecordSchemaMismatch(ctx context.Context, m SchemaMismatch) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_mismatches (job_id, plugin_name, output_name, expected_hash, actual_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.JobID, m.PluginName, m.OutputName, m.ExpectedHash, m.ActualHash, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("catalog: record schema mismatch for job %d: %w", m.JobID, err)
	}
	return res.LastInsertId()
}

// ListSchemaMismatches returns recorded violations, optionally
// filtered to one plugin when pluginName is non-empty.
func (s *Store) ListSchemaMismatches(ctx context.Context, pluginName string) ([]SchemaMismatch, error) {
	query := `SELECT id, job_id, plugin_name, output_name, expected_hash, actual_hash, created_at FROM schema_mismatches`
	args := []any{}
	if pluginName != "" {
		query += ` WHERE plugin_name = ?`
		args = append(args, pluginName)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list schema mismatches: %w", err)
	}
	defer rows.Close()

	var out []SchemaMismatch
	for rows.Next() {
		var m SchemaMismatch
		if err := rows.Scan(&m.ID, &m.JobID, &m.PluginName, &m.OutputName, &m.ExpectedHash, &m.ActualHash, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan schema mismatch row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
