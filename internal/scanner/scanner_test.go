// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/tagger"
)

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.sqlite3"), catalog.BackendSQLite, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureAllSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
}

// TestScanAndTag scans three files against two tagging rules,
// verifying the file count and the per-file tags end to end.
func TestScanAndTag(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.csv")
	writeFile(t, root, "sub/b.csv")
	writeFile(t, root, "sub/c.json")

	srcID, err := store.UpsertSource(ctx, catalog.Source{
		WorkspaceID: 1, Name: "docs", SourceType: catalog.SourceTypeLocal, Path: root, Enabled: true,
	})
	require.NoError(t, err)

	_, err = store.UpsertTaggingRule(ctx, catalog.TaggingRule{
		SourceID: srcID, Name: "csv", Pattern: "*.csv", Tag: "csv", Priority: 10, Enabled: true,
	})
	require.NoError(t, err)
	_, err = store.UpsertTaggingRule(ctx, catalog.TaggingRule{
		SourceID: srcID, Name: "nested_json", Pattern: "sub/*.json", Tag: "nested_json", Priority: 20, Enabled: true,
	})
	require.NoError(t, err)

	rules, err := store.ListTaggingRules(ctx, srcID)
	require.NoError(t, err)
	tg, err := tagger.New(rules, false)
	require.NoError(t, err)

	sc := New(store, DefaultConfig(), nil)
	source, err := store.GetSource(ctx, srcID)
	require.NoError(t, err)

	res, err := sc.Scan(ctx, *source, 1, tg, nil)
	require.NoError(t, err)
	require.False(t, res.PartiallyFailed)
	require.EqualValues(t, 3, res.Stats.FilesDiscovered)

	files, err := store.ListFiles(ctx, srcID, catalog.FileStatusPresent)
	require.NoError(t, err)
	require.Len(t, files, 3)

	byRel := make(map[string]catalog.ScannedFile, 3)
	for _, f := range files {
		byRel[f.RelPath] = f
	}
	require.Equal(t, "csv", byRel["a.csv"].Tag.String)
	require.Equal(t, "csv", byRel["sub/b.csv"].Tag.String)
	require.Equal(t, "nested_json", byRel["sub/c.json"].Tag.String)
}

func TestScanExcludesHiddenAndPatterns(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, ".git/HEAD")
	writeFile(t, root, "target/debug/bin")
	writeFile(t, root, "keep.txt")

	srcID, err := store.UpsertSource(ctx, catalog.Source{
		WorkspaceID: 1, Name: "proj", SourceType: catalog.SourceTypeLocal, Path: root, Enabled: true,
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ExcludePathPatterns = []string{"target"}
	sc := New(store, cfg, nil)
	source, err := store.GetSource(ctx, srcID)
	require.NoError(t, err)

	_, err = sc.Scan(ctx, *source, 1, nil, nil)
	require.NoError(t, err)

	files, err := store.ListFiles(ctx, srcID, catalog.FileStatusPresent)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "keep.txt", files[0].RelPath)
}

func TestScanExcludesGlobPatterns(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.tmp")
	writeFile(t, root, "sub/b.tmp")
	writeFile(t, root, "keep.txt")

	srcID, err := store.UpsertSource(ctx, catalog.Source{
		WorkspaceID: 1, Name: "proj", SourceType: catalog.SourceTypeLocal, Path: root, Enabled: true,
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ExcludePathPatterns = []string{"**/*.tmp"}
	sc := New(store, cfg, nil)
	source, err := store.GetSource(ctx, srcID)
	require.NoError(t, err)

	_, err = sc.Scan(ctx, *source, 1, nil, nil)
	require.NoError(t, err)

	files, err := store.ListFiles(ctx, srcID, catalog.FileStatusPresent)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "keep.txt", files[0].RelPath)
}

func TestScanDetectsDeletedFiles(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.txt")
	writeFile(t, root, "b.txt")

	srcID, err := store.UpsertSource(ctx, catalog.Source{
		WorkspaceID: 1, Name: "proj", SourceType: catalog.SourceTypeLocal, Path: root, Enabled: true,
	})
	require.NoError(t, err)
	source, err := store.GetSource(ctx, srcID)
	require.NoError(t, err)

	sc := New(store, DefaultConfig(), nil)
	_, err = sc.Scan(ctx, *source, 1, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	time.Sleep(10 * time.Millisecond)

	_, err = sc.Scan(ctx, *source, 1, nil, nil)
	require.NoError(t, err)

	deleted, err := store.ListFiles(ctx, srcID, catalog.FileStatusDeleted)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	require.Equal(t, "b.txt", deleted[0].RelPath)
}
