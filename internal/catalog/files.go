// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"
)

// FileStatus enumerates the lifecycle of a ScannedFile row.
type FileStatus string

const (
	FileStatusPending FileStatus = "pending"
	FileStatusPresent FileStatus = "present"
	FileStatusDeleted FileStatus = "deleted"
)

func (fs FileStatus) IsValid() bool {
	switch fs {
	case FileStatusPending, FileStatusPresent, FileStatusDeleted:
		return true
	default:
		return false
	}
}

// TagSource records how a file's tag was assigned.
type TagSource string

const (
	TagSourceRule   TagSource = "rule"
	TagSourceManual TagSource = "manual"
	TagSourceNone   TagSource = "none"
)

// ScannedFile is a persisted discovery record tied to a source and a
// stable file UID.
type ScannedFile struct {
	ID          int64
	WorkspaceID int64
	SourceID    int64
	FileUID     string
	FullPath    string
	RelPath     string
	Size        int64
	MtimeMs     int64
	FirstSeenAt int64
	LastSeenAt  int64
	Status      FileStatus
	Tag         sql.NullString
	TagSource   TagSource
	RuleID      sql.NullInt64
	ContentHash sql.NullString
	Error       sql.NullString
}

// splitPath derives (parent_path, name, extension) from a forward-slash
// relative path, matching the batch upsert contract.
func splitPath(relPath string) (parent, name, ext string) {
	clean := path.Clean(strings.ReplaceAll(relPath, `\`, "/"))
	parent = path.Dir(clean)
	if parent == "." {
		parent = ""
	}
	name = path.Base(clean)
	ext = strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	return parent, name, ext
}

// UpsertStats reports the per-batch classification the upsert
// contract requires.
type UpsertStats struct {
	New       int
	Changed   int
	Unchanged int
}

// BatchUpsert persists a batch of scanned files for one source at a
// given scan epoch. For each row it upserts by (source_id, rel_path),
// compares size/mtime against the prior row to classify as
// new/changed/unchanged, advances last_seen_at, and never regresses
// first_seen_at. Each file's Tag, TagSource and RuleID are written as
// given; on an update, a NULL Tag or RuleID keeps the stored value.
func (s *Store) BatchUpsert(ctx context.Context, sourceID, workspaceID int64, scanEpochMs int64, files []ScannedFile) (UpsertStats, error) {
	var stats UpsertStats
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, f := range files {
			parent, name, ext := splitPath(f.RelPath)

			var priorSize, priorMtime sql.NullInt64
			err := tx.QueryRowContext(ctx, `
				SELECT size, mtime_ms FROM scanned_files
				WHERE source_id = ? AND rel_path = ?`, sourceID, f.RelPath).Scan(&priorSize, &priorMtime)

			switch {
			case err == sql.ErrNoRows:
				stats.New++
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO scanned_files (
						workspace_id, source_id, file_uid, full_path, rel_path,
						parent_path, name, extension, size, mtime_ms,
						first_seen_at, last_seen_at, status, tag, tag_source, rule_id
					) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, workspaceID, sourceID, f.FileUID, f.FullPath, f.RelPath,
					parent, name, ext, f.Size, f.MtimeMs,
					scanEpochMs, scanEpochMs, string(FileStatusPresent),
					f.Tag, string(f.TagSource), f.RuleID); err != nil {
					return fmt.Errorf("insert scanned_file %s: %w", f.RelPath, err)
				}
			case err != nil:
				return fmt.Errorf("lookup scanned_file %s: %w", f.RelPath, err)
			default:
				changed := !priorSize.Valid || priorSize.Int64 != f.Size ||
					!priorMtime.Valid || priorMtime.Int64 != f.MtimeMs
				if changed {
					stats.Changed++
				} else {
					stats.Unchanged++
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE scanned_files SET
						file_uid = ?, full_path = ?, parent_path = ?, name = ?, extension = ?,
						size = ?, mtime_ms = ?, last_seen_at = ?, status = ?,
						tag = COALESCE(?, tag), tag_source = CASE WHEN ? IS NOT NULL THEN ? ELSE tag_source END,
						rule_id = COALESCE(?, rule_id)
					WHERE source_id = ? AND rel_path = ?
				`, f.FileUID, f.FullPath, parent, name, ext,
					f.Size, f.MtimeMs, scanEpochMs, string(FileStatusPresent),
					f.Tag, f.Tag, string(f.TagSource),
					f.RuleID, sourceID, f.RelPath); err != nil {
					return fmt.Errorf("update scanned_file %s: %w", f.RelPath, err)
				}
			}
		}
		return nil
	})
	return stats, err
}

// DetectDeletes marks every file of sourceID whose last_seen_at
// predates scanStartEpochMs as deleted, returning the count affected.
// Call only after a fully successful scan (no failed batches).
func (s *Store) DetectDeletes(ctx context.Context, sourceID int64, scanStartEpochMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scanned_files SET status = ?
		WHERE source_id = ? AND last_seen_at < ? AND status != ?
	`, string(FileStatusDeleted), sourceID, scanStartEpochMs, string(FileStatusDeleted))
	if err != nil {
		return 0, fmt.Errorf("catalog: detect deletes: %w", err)
	}
	return res.RowsAffected()
}

// SeedFolderCache replaces the folder-cache rows for sourceID with the
// aggregated counts the scanner collected in-memory, avoiding a SQL
// repopulation pass.
func (s *Store) SeedFolderCache(ctx context.Context, sourceID int64, counts map[string]uint64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM folder_cache WHERE source_id = ?`, sourceID); err != nil {
			return err
		}
		for folder, count := range counts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO folder_cache (source_id, folder_path, file_count) VALUES (?, ?, ?)
			`, sourceID, folder, count); err != nil {
				return fmt.Errorf("seed folder_cache %s: %w", folder, err)
			}
		}
		return nil
	})
}

// RepopulateFolderCache rebuilds the folder cache for sourceID from
// scanned_files directly, used as a fallback when batch aggregation
// was bypassed or a batch failed.
func (s *Store) RepopulateFolderCache(ctx context.Context, sourceID int64) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_path FROM scanned_files WHERE source_id = ? AND status = ?
	`, sourceID, string(FileStatusPresent))
	if err != nil {
		return fmt.Errorf("catalog: repopulate folder cache: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return err
		}
		counts[parent]++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return s.SeedFolderCache(ctx, sourceID, counts)
}

// ListAllFiles returns every scanned file with the given status across
// all sources, used by the selection resolver when a selection spec
// does not pin a single source.
func (s *Store) ListAllFiles(ctx context.Context, status FileStatus) ([]ScannedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, source_id, file_uid, full_path, rel_path,
		       size, mtime_ms, first_seen_at, last_seen_at, status, tag, tag_source, rule_id, content_hash, error
		FROM scanned_files WHERE status = ?
		ORDER BY id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("catalog: list all files: %w", err)
	}
	defer rows.Close()

	var out []ScannedFile
	for rows.Next() {
		var f ScannedFile
		var statusStr, tagSourceStr string
		if err := rows.Scan(&f.ID, &f.WorkspaceID, &f.SourceID, &f.FileUID, &f.FullPath, &f.RelPath,
			&f.Size, &f.MtimeMs, &f.FirstSeenAt, &f.LastSeenAt, &statusStr, &f.Tag, &tagSourceStr,
			&f.RuleID, &f.ContentHash, &f.Error); err != nil {
			return nil, fmt.Errorf("catalog: scan file row: %w", err)
		}
		f.Status = FileStatus(statusStr)
		f.TagSource = TagSource(tagSourceStr)
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFile loads a single scanned file by id, used by the Sentinel to
// resolve a job's file_id into a path for dispatch.
func (s *Store) GetFile(ctx context.Context, id int64) (*ScannedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, source_id, file_uid, full_path, rel_path,
		       size, mtime_ms, first_seen_at, last_seen_at, status, tag, tag_source, rule_id, content_hash, error
		FROM scanned_files WHERE id = ?
	`, id)
	var f ScannedFile
	var statusStr, tagSourceStr string
	err := row.Scan(&f.ID, &f.WorkspaceID, &f.SourceID, &f.FileUID, &f.FullPath, &f.RelPath,
		&f.Size, &f.MtimeMs, &f.FirstSeenAt, &f.LastSeenAt, &statusStr, &f.Tag, &tagSourceStr,
		&f.RuleID, &f.ContentHash, &f.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get file: %w", err)
	}
	f.Status = FileStatus(statusStr)
	f.TagSource = TagSource(tagSourceStr)
	return &f, nil
}

// ListFiles returns scanned files for a source filtered by status,
// used by the selection resolver and CLI listings.
func (s *Store) ListFiles(ctx context.Context, sourceID int64, status FileStatus) ([]ScannedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, source_id, file_uid, full_path, rel_path,
		       size, mtime_ms, first_seen_at, last_seen_at, status, tag, tag_source, rule_id, content_hash, error
		FROM scanned_files WHERE source_id = ? AND status = ?
		ORDER BY id ASC
	`, sourceID, string(status))
	if err != nil {
		return nil, fmt.Errorf("catalog: list files: %w", err)
	}
	defer rows.Close()

	var out []ScannedFile
	for rows.Next() {
		var f ScannedFile
		var statusStr, tagSourceStr string
		if err := rows.Scan(&f.ID, &f.WorkspaceID, &f.SourceID, &f.FileUID, &f.FullPath, &f.RelPath,
			&f.Size, &f.MtimeMs, &f.FirstSeenAt, &f.LastSeenAt, &statusStr, &f.Tag, &tagSourceStr,
			&f.RuleID, &f.ContentHash, &f.Error); err != nil {
			return nil, fmt.Errorf("catalog: scan file row: %w", err)
		}
		f.Status = FileStatus(statusStr)
		f.TagSource = TagSource(tagSourceStr)
		out = append(out, f)
	}
	return out, rows.Err()
}
