// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "catalog.sqlite3"), BackendSQLite, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureAllSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBatchUpsertIdempotence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertSource(ctx, Source{WorkspaceID: 1, Name: "proj", SourceType: SourceTypeLocal, Path: "/tmp/proj"})
	require.NoError(t, err)

	files := []ScannedFile{
		{SourceID: id, WorkspaceID: 1, FileUID: "u1", FullPath: "/tmp/proj/a.csv", RelPath: "a.csv", Size: 100, MtimeMs: 1000},
		{SourceID: id, WorkspaceID: 1, FileUID: "u2", FullPath: "/tmp/proj/b.csv", RelPath: "b.csv", Size: 200, MtimeMs: 2000},
	}

	stats, err := s.BatchUpsert(ctx, id, 1, 500, files)
	require.NoError(t, err)
	require.Equal(t, UpsertStats{New: 2}, stats)

	stats, err = s.BatchUpsert(ctx, id, 1, 600, files)
	require.NoError(t, err)
	require.Equal(t, UpsertStats{Unchanged: 2}, stats)
}

func TestBatchUpsertClassifiesChanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.UpsertSource(ctx, Source{WorkspaceID: 1, Name: "proj", SourceType: SourceTypeLocal, Path: "/tmp/proj"})
	require.NoError(t, err)

	f := ScannedFile{SourceID: id, WorkspaceID: 1, FileUID: "u1", FullPath: "/a.csv", RelPath: "a.csv", Size: 100, MtimeMs: 1000}
	_, err = s.BatchUpsert(ctx, id, 1, 500, []ScannedFile{f})
	require.NoError(t, err)

	f.Size = 150
	stats, err := s.BatchUpsert(ctx, id, 1, 600, []ScannedFile{f})
	require.NoError(t, err)
	require.Equal(t, UpsertStats{Changed: 1}, stats)
}

func TestDetectDeletesMarksStaleFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.UpsertSource(ctx, Source{WorkspaceID: 1, Name: "proj", SourceType: SourceTypeLocal, Path: "/tmp/proj"})
	require.NoError(t, err)

	_, err = s.BatchUpsert(ctx, id, 1, 100, []ScannedFile{
		{SourceID: id, WorkspaceID: 1, FileUID: "u1", FullPath: "/a.csv", RelPath: "a.csv", Size: 1, MtimeMs: 1},
	})
	require.NoError(t, err)

	count, err := s.DetectDeletes(ctx, id, 200)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	files, err := s.ListFiles(ctx, id, FileStatusDeleted)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestValidateReadOnlyGate(t *testing.T) {
	require.NoError(t, ValidateReadOnly("SELECT 1 UNION SELECT 2"))
	require.NoError(t, ValidateReadOnly("SELECT 1 -- INSERT INTO x"))
	require.Error(t, ValidateReadOnly("SELECT 1; DROP TABLE events"))
	require.Error(t, ValidateReadOnly("DELETE FROM sources"))
}

func TestWrapWithLimit(t *testing.T) {
	wrapped := WrapWithLimit("SELECT * FROM sources", 10)
	require.Equal(t, "SELECT * FROM (SELECT * FROM sources) AS _q LIMIT 10", wrapped)
}

func TestFileLockExclusiveRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.sqlite3")

	l1 := NewFileLock(dbPath)
	require.NoError(t, l1.TryExclusive())
	defer l1.Release()

	l2 := NewFileLock(dbPath)
	err := l2.TryExclusive()
	require.Error(t, err)
	require.IsType(t, ErrLocked{}, err)
}
