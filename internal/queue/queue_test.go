// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.sqlite3"), catalog.BackendSQLite, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureAllSchema(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestJobRetryToDeadLetter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	ids, err := q.Enqueue(ctx, []int64{1}, nil, "p", 0)
	require.NoError(t, err)
	jobID := ids[0]

	for attempt := 0; attempt <= catalog.MaxRetries; attempt++ {
		job, err := q.PopNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, catalog.JobRunning, job.Status)

		require.NoError(t, q.Fail(ctx, jobID, "parse error"))

		result, err := q.Requeue(ctx, jobID)
		require.NoError(t, err)
		if attempt < catalog.MaxRetries {
			require.Equal(t, catalog.RequeuedToQueue, result)
		} else {
			require.Equal(t, catalog.RequeuedDeadLetter, result)
		}
	}

	job, err := q.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, job.Status)
	require.EqualValues(t, catalog.MaxRetries, job.RetryCount)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.DeadLetters)

	// Cancel on a dead-lettered job is a no-op.
	require.NoError(t, q.Cancel(ctx, jobID))
	job, err = q.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, job.Status)
}

func TestPopNextSerializesConcurrentClaimants(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []int64{1}, nil, "p", 0)
	require.NoError(t, err)

	type result struct {
		job *catalog.Job
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			job, _ := q.PopNext(ctx)
			results <- result{job: job}
		}()
	}

	var claimed int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.job != nil {
			claimed++
		}
	}
	require.Equal(t, 1, claimed)
}

func TestCompleteTransition(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	ids, err := q.Enqueue(ctx, []int64{1}, nil, "p", 0)
	require.NoError(t, err)

	job, err := q.PopNext(ctx)
	require.NoError(t, err)
	require.Equal(t, ids[0], job.ID)

	require.NoError(t, q.Complete(ctx, job.ID, "ok"))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompleted, got.Status)
	require.True(t, got.EndTime.Valid)
}
