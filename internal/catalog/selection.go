// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSelectionSchema creates the selection spec/snapshot tables if
// absent.
func (s *Store) EnsureSelectionSchema(ctx context.Context) error {
	for _, ddl := range []string{selectionSpecsDDL, selectionSnapshotsDDL, selectionSnapshotFilesDDL} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// InsertSelectionSpec persists a serialized selection spec and returns
// its id.
func (s *Store) InsertSelectionSpec(ctx context.Context, specJSON string, nowMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO selection_specs (spec_json, created_at) VALUES (?, ?)
	`, specJSON, nowMs)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert selection spec: %w", err)
	}
	return res.LastInsertId()
}

// InsertSnapshot persists a resolved selection snapshot and its member
// file ids, returning the new snapshot id.
func (s *Store) InsertSnapshot(ctx context.Context, specID int64, snapshotHash, logicalDate string, watermarkValue *int64, fileIDs []int64) (int64, error) {
	var snapshotID int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var wm any
		if watermarkValue != nil {
			wm = *watermarkValue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO selection_snapshots (spec_id, snapshot_hash, logical_date, watermark_value)
			VALUES (?, ?, ?, ?)
		`, specID, snapshotHash, logicalDate, wm)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		snapshotID = id

		for _, fileID := range fileIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO selection_snapshot_files (snapshot_id, file_id) VALUES (?, ?)
			`, snapshotID, fileID); err != nil {
				return fmt.Errorf("insert snapshot file %d: %w", fileID, err)
			}
		}
		return nil
	})
	return snapshotID, err
}

// GetSelectionSpec loads a previously persisted spec's raw JSON body.
func (s *Store) GetSelectionSpec(ctx context.Context, id int64) (string, error) {
	var specJSON string
	err := s.db.QueryRowContext(ctx, `SELECT spec_json FROM selection_specs WHERE id = ?`, id).Scan(&specJSON)
	if err != nil {
		return "", fmt.Errorf("catalog: get selection spec: %w", err)
	}
	return specJSON, nil
}

// SnapshotFileIDs returns the member file ids of a persisted snapshot,
// in ascending order.
func (s *Store) SnapshotFileIDs(ctx context.Context, snapshotID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id FROM selection_snapshot_files WHERE snapshot_id = ? ORDER BY file_id ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("catalog: snapshot file ids: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
