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

// SourceType enumerates the kinds of roots a Source can watch. Local
// is the only kind this build implements; the enum leaves room for
// future collaborators without widening today's contract.
type SourceType string

const (
	SourceTypeLocal SourceType = "local"
)

// IsValid reports whether st is a defined SourceType.
func (st SourceType) IsValid() bool {
	return st == SourceTypeLocal
}

// Source is a user-declared filesystem root with optional poll
// cadence.
type Source struct {
	WorkspaceID      int64
	ID               int64
	Name             string
	SourceType       SourceType
	Path             string
	PollIntervalSecs int64
	Enabled          bool
}

// EnsureSourcesSchema creates the sources table if absent.
func (s *Store) EnsureSourcesSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sourcesDDL)
	return err
}

// UpsertSource inserts or updates a Source by (workspace_id, name).
func (s *Store) UpsertSource(ctx context.Context, src Source) (int64, error) {
	if !src.SourceType.IsValid() {
		return 0, ErrInvalidState{Entity: "source_type", Value: string(src.SourceType)}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (workspace_id, name, source_type, path, poll_interval_secs, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, name) DO UPDATE SET
			source_type = excluded.source_type,
			path = excluded.path,
			poll_interval_secs = excluded.poll_interval_secs,
			enabled = excluded.enabled
	`, src.WorkspaceID, src.Name, string(src.SourceType), src.Path, src.PollIntervalSecs, src.Enabled)
	if err != nil {
		return 0, fmt.Errorf("catalog: upsert source: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	return s.sourceIDByName(ctx, src.WorkspaceID, src.Name)
}

func (s *Store) sourceIDByName(ctx context.Context, workspaceID int64, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sources WHERE workspace_id = ? AND name = ?`, workspaceID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("catalog: look up source id: %w", err)
	}
	return id, nil
}

// GetSource loads a Source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, id, name, source_type, path, poll_interval_secs, enabled
		FROM sources WHERE id = ?`, id)
	var src Source
	var enabled int
	err := row.Scan(&src.WorkspaceID, &src.ID, &src.Name, &src.SourceType, &src.Path, &src.PollIntervalSecs, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get source: %w", err)
	}
	src.Enabled = enabled != 0
	return &src, nil
}

// DeleteSource removes a Source. Callers must first confirm no files
// reference it; the catalog does not enforce that invariant itself.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return err
}

// GetSourceByName loads a Source by its (workspace_id, name) key, used
// by CLI commands that address a source by name rather than id.
func (s *Store) GetSourceByName(ctx context.Context, workspaceID int64, name string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, id, name, source_type, path, poll_interval_secs, enabled
		FROM sources WHERE workspace_id = ? AND name = ?`, workspaceID, name)
	var src Source
	var enabled int
	err := row.Scan(&src.WorkspaceID, &src.ID, &src.Name, &src.SourceType, &src.Path, &src.PollIntervalSecs, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get source by name: %w", err)
	}
	src.Enabled = enabled != 0
	return &src, nil
}

// ListSources returns every source in a workspace, ordered by id.
func (s *Store) ListSources(ctx context.Context, workspaceID int64) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, id, name, source_type, path, poll_interval_secs, enabled
		FROM sources WHERE workspace_id = ? ORDER BY id ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		var enabled int
		if err := rows.Scan(&src.WorkspaceID, &src.ID, &src.Name, &src.SourceType, &src.Path, &src.PollIntervalSecs, &enabled); err != nil {
			return nil, fmt.Errorf("catalog: scan source: %w", err)
		}
		src.Enabled = enabled != 0
		out = append(out, src)
	}
	return out, rows.Err()
}
