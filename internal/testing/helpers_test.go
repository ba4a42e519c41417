// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package testing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
)

func TestNewTestCatalogIsUsable(t *testing.T) {
	store := NewTestCatalog(t)
	require.NotNil(t, store)
	assert.Equal(t, catalog.BackendSQLite, store.Backend())

	id, err := store.UpsertSource(context.Background(), catalog.Source{
		WorkspaceID: 1,
		Name:        "docs",
		SourceType:  catalog.SourceTypeLocal,
		Path:        "/data/docs",
		Enabled:     true,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	src, err := store.GetSource(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "docs", src.Name)
}

func TestNewTestCatalogIsolatedPerTest(t *testing.T) {
	store1 := NewTestCatalog(t)
	_, err := store1.UpsertSource(context.Background(), catalog.Source{
		WorkspaceID: 1, Name: "a", SourceType: catalog.SourceTypeLocal, Path: "/a", Enabled: true,
	})
	require.NoError(t, err)

	store2 := NewTestCatalog(t)
	src, err := store2.GetSource(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, src, "a fresh catalog must not see another test's rows")
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	clock := NewFakeClock(start)
	assert.Equal(t, start.UnixMilli(), clock.NowMs())

	next := clock.Advance(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), next)
	assert.Equal(t, start.Add(5*time.Second).UnixMilli(), clock.NowMs())

	clock.Set(start)
	assert.Equal(t, start.UnixMilli(), clock.NowMs())
}

// TestFakeClockDrivesJobLifecycle exercises the catalog's job queue
// with timestamps taken entirely from a FakeClock, confirming claim
// and completion times are exactly what the clock reported rather than
// whatever time.Now() happened to be when the test ran.
func TestFakeClockDrivesJobLifecycle(t *testing.T) {
	store := NewTestCatalog(t)
	clock := NewFakeClock(time.UnixMilli(1_700_000_000_000))
	ctx := context.Background()

	ids, err := store.Enqueue(ctx, []int64{1, 2}, sql.NullInt64{}, "extract_text", 0, clock.NowMs())
	require.NoError(t, err)
	require.Len(t, ids, 2)

	clock.Advance(time.Second)
	job, err := store.PopNext(ctx, clock.NowMs())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, catalog.JobRunning, job.Status)
	assert.Equal(t, clock.NowMs(), job.ClaimTime.Int64)

	clock.Advance(2 * time.Second)
	require.NoError(t, store.Complete(ctx, job.ID, "ok", clock.NowMs()))

	reloaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobCompleted, reloaded.Status)
	assert.Equal(t, clock.NowMs(), reloaded.EndTime.Int64)
}
