// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package queue is the durable FIFO of per-file processing jobs: a
// thin, semantically-named facade over the catalog's job table that
// the Sentinel dispatcher and CLI job commands depend on instead of
// reaching into catalog SQL directly.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/casparianhq/flow/internal/catalog"
)

// Queue durably orders (file_id, plugin_name, priority, status,
// retry_count) rows and exposes the atomic claim/complete/fail/requeue
// operations of the job state machine.
type Queue struct {
	store *catalog.Store
	now   func() time.Time
}

// New returns a Queue backed by store. now defaults to time.Now and is
// only overridden in tests.
func New(store *catalog.Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

func (q *Queue) nowMs() int64 {
	return q.now().UnixMilli()
}

// Enqueue inserts one Queued row per file id for a single plugin.
func (q *Queue) Enqueue(ctx context.Context, fileIDs []int64, pipelineRunID *int64, pluginName string, priority int64) ([]int64, error) {
	var runID sql.NullInt64
	if pipelineRunID != nil {
		runID = sql.NullInt64{Int64: *pipelineRunID, Valid: true}
	}
	return q.store.Enqueue(ctx, fileIDs, runID, pluginName, priority, q.nowMs())
}

// PopNext atomically claims the next eligible job.
func (q *Queue) PopNext(ctx context.Context) (*catalog.Job, error) {
	return q.store.PopNext(ctx, q.nowMs())
}

// Complete marks a job Completed.
func (q *Queue) Complete(ctx context.Context, id int64, summary string) error {
	return q.store.Complete(ctx, id, summary, q.nowMs())
}

// Fail marks a job Failed. Callers decide separately whether to
// Requeue it.
func (q *Queue) Fail(ctx context.Context, id int64, errMsg string) error {
	return q.store.Fail(ctx, id, errMsg, q.nowMs())
}

// Requeue applies the retry policy: Queued again while
// retry_count < MaxRetries, else moved to dead-letter.
func (q *Queue) Requeue(ctx context.Context, id int64) (catalog.RequeueResult, error) {
	return q.store.Requeue(ctx, id)
}

// Cancel transitions a cancellable job to Aborted. A job already
// terminal (e.g. dead-lettered Failed) is left untouched.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	return q.store.Cancel(ctx, id, q.nowMs())
}

// Stats reports queue counts by status plus dead-letter size.
func (q *Queue) Stats(ctx context.Context) (catalog.QueueStats, error) {
	return q.store.Stats(ctx)
}

// Get loads a single job.
func (q *Queue) Get(ctx context.Context, id int64) (*catalog.Job, error) {
	return q.store.GetJob(ctx, id)
}

// List returns jobs matching filter, for the `jobs` CLI command.
func (q *Queue) List(ctx context.Context, filter catalog.JobFilter) ([]catalog.Job, error) {
	return q.store.ListJobs(ctx, filter)
}
