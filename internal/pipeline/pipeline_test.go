// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/queue"
)

func newTestRunner(t *testing.T) (*Runner, *catalog.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.sqlite3"), catalog.BackendSQLite, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureAllSchema(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	q := queue.New(store)
	return NewRunner(store, q, 1, nil), store
}

func seedFile(t *testing.T, store *catalog.Store, sourceID int64, relPath, tag string, mtimeMs int64) {
	t.Helper()
	_, err := store.BatchUpsert(context.Background(), sourceID, 1, mtimeMs, []catalog.ScannedFile{{
		WorkspaceID: 1, SourceID: sourceID, FileUID: relPath, FullPath: relPath, RelPath: relPath,
		Size: 10, MtimeMs: mtimeMs, TagSource: catalog.TagSourceManual,
	}})
	require.NoError(t, err)
}

func TestApplyThenRunEnqueuesAndIsIdempotent(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()

	sourceID, err := store.UpsertSource(ctx, catalog.Source{WorkspaceID: 1, Name: "local", SourceType: catalog.SourceTypeLocal, Path: "/tmp", Enabled: true})
	require.NoError(t, err)
	seedFile(t, store, sourceID, "a.csv", "csv", 1000)
	seedFile(t, store, sourceID, "b.csv", "csv", 2000)

	spec, err := ParseSpec([]byte(`
name: ingest-csv
run:
  parser: csv_parser
selection:
  source: local
`))
	require.NoError(t, err)

	p, err := r.Apply(ctx, spec)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.Version)

	logicalDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	res, err := r.Run(ctx, "ingest-csv", logicalDate, false)
	require.NoError(t, err)
	require.False(t, res.NoOp)
	require.Equal(t, 2, res.FileCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.ByStatus[catalog.JobQueued])

	// Re-running the same logical date is a no-op: no new jobs queued.
	res2, err := r.Run(ctx, "ingest-csv", logicalDate, false)
	require.NoError(t, err)
	require.True(t, res2.NoOp)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.ByStatus[catalog.JobQueued])
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()

	sourceID, err := store.UpsertSource(ctx, catalog.Source{WorkspaceID: 1, Name: "local", SourceType: catalog.SourceTypeLocal, Path: "/tmp", Enabled: true})
	require.NoError(t, err)
	seedFile(t, store, sourceID, "a.csv", "csv", 1000)

	spec, err := ParseSpec([]byte("name: p1\nrun:\n  parser: x\nselection:\n  source: local\n"))
	require.NoError(t, err)
	_, err = r.Apply(ctx, spec)
	require.NoError(t, err)

	res, err := r.Run(ctx, "p1", time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Equal(t, 1, res.FileCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Empty(t, stats.ByStatus)
}

func TestRunDryRunAfterRealRunIsNoOp(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()

	sourceID, err := store.UpsertSource(ctx, catalog.Source{WorkspaceID: 1, Name: "local", SourceType: catalog.SourceTypeLocal, Path: "/tmp", Enabled: true})
	require.NoError(t, err)
	seedFile(t, store, sourceID, "a.csv", "csv", 1000)

	spec, err := ParseSpec([]byte("name: p1\nrun:\n  parser: x\nselection:\n  source: local\n"))
	require.NoError(t, err)
	_, err = r.Apply(ctx, spec)
	require.NoError(t, err)

	logicalDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	first, err := r.Run(ctx, "p1", logicalDate, false)
	require.NoError(t, err)
	require.False(t, first.NoOp)

	// The existing-run check fires before the dry-run branch: a dry
	// run against an already-run logical date is the same no-op.
	res, err := r.Run(ctx, "p1", logicalDate, true)
	require.NoError(t, err)
	require.True(t, res.NoOp)
	require.True(t, res.DryRun)
	require.Equal(t, first.RunID, res.RunID)
	require.Zero(t, res.FileCount)
}

func TestBackfillRunsEachDay(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()

	sourceID, err := store.UpsertSource(ctx, catalog.Source{WorkspaceID: 1, Name: "local", SourceType: catalog.SourceTypeLocal, Path: "/tmp", Enabled: true})
	require.NoError(t, err)
	seedFile(t, store, sourceID, "a.csv", "csv", time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC).UnixMilli())

	spec, err := ParseSpec([]byte("name: bf\nrun:\n  parser: x\nselection:\n  source: local\n"))
	require.NoError(t, err)
	_, err = r.Apply(ctx, spec)
	require.NoError(t, err)

	start := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	results, err := r.Backfill(ctx, "bf", start, end, false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "2026-07-28", results[0].LogicalDate)
	require.Equal(t, "2026-07-30", results[2].LogicalDate)
}

func TestParseSinceDurationForms(t *testing.T) {
	cases := map[string]time.Duration{
		"P2D":  48 * time.Hour,
		"PT3H": 3 * time.Hour,
		"PT5M": 5 * time.Minute,
		"PT9S": 9 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseSinceDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseSinceDuration("P1W")
	require.Error(t, err)
	_, err = ParseSinceDuration("garbage")
	require.Error(t, err)
}
