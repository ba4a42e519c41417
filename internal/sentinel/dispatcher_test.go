// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sentinel

import (
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/queue"
	"github.com/casparianhq/flow/internal/wire"
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

// fakeWorker is an in-memory worker endpoint built over net.Pipe, used
// to drive the dispatcher's event loop without a real TCP socket.
type fakeWorker struct {
	conn net.Conn
	r    *wire.Reader
}

func newFakeWorker(t *testing.T, d *Dispatcher, workerID string, caps []string) *fakeWorker {
	t.Helper()
	client, server := net.Pipe()
	d.HandleConn(server)
	fw := &fakeWorker{conn: client, r: wire.NewReader(client)}
	require.NoError(t, wire.WriteMessage(fw.conn, wire.OpIdentify, 0, wire.IdentifyPayload{
		WorkerID: workerID, Capabilities: caps,
	}))
	t.Cleanup(func() { _ = fw.conn.Close() })
	return fw
}

func (fw *fakeWorker) expectDispatch(t *testing.T) (wire.Message, wire.DispatchPayload) {
	t.Helper()
	msg, err := fw.r.Read()
	require.NoError(t, err)
	require.Equal(t, wire.OpDispatch, msg.Header.Op)
	var p wire.DispatchPayload
	require.NoError(t, msg.Decode(&p))
	return msg, p
}

func (fw *fakeWorker) conclude(t *testing.T, jobID uint64, status wire.ConcludeStatus, errMsg string) {
	t.Helper()
	require.NoError(t, wire.WriteMessage(fw.conn, wire.OpConclude, jobID, wire.ConcludePayload{
		Status: status, Error: errMsg,
	}))
}

func seedJob(t *testing.T, store *catalog.Store, q *queue.Queue, pluginName string) int64 {
	t.Helper()
	ctx := context.Background()
	sourceID, err := store.UpsertSource(ctx, catalog.Source{
		WorkspaceID: 1, Name: "src", SourceType: catalog.SourceTypeLocal, Path: "/tmp",
	})
	require.NoError(t, err)
	_, err = store.BatchUpsert(ctx, sourceID, 1, 1000, []catalog.ScannedFile{
		{FileUID: "uid-1", FullPath: "/tmp/a.csv", RelPath: "a.csv", Size: 1, MtimeMs: 1000},
	})
	require.NoError(t, err)
	files, err := store.ListFiles(ctx, sourceID, catalog.FileStatusPresent)
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, store.UpsertPluginManifest(ctx, catalog.PluginManifest{
		PluginName: pluginName, Version: "1.0.0", RuntimeKind: catalog.RuntimeKindPythonShim,
		Entrypoint: "parser:main", SourceHash: "h", ArtifactHash: "a",
		Status: catalog.PluginStatusActive, CreatedAt: 1000,
		DeployedAt: sql.NullInt64{Int64: 1000, Valid: true},
	}))

	ids, err := q.Enqueue(ctx, []int64{files[0].ID}, nil, pluginName, 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

// TestDispatchToCapableWorker covers the common path: a Queued job is
// handed to the one worker whose capabilities cover its plugin, and a
// SUCCESS Conclude completes it.
func TestDispatchToCapableWorker(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	d := New(q, store, nil)

	jobID := seedJob(t, store, q, "csv_parser")
	fw := newFakeWorker(t, d, "worker-1", []string{"csv_parser"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	_, payload := fw.expectDispatch(t)
	require.Equal(t, "csv_parser", payload.PluginName)
	require.Equal(t, "/tmp/a.csv", payload.FilePath)

	fw.conclude(t, uint64(jobID), wire.ConcludeSuccess, "")

	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), jobID)
		return err == nil && job.Status == catalog.JobCompleted
	}, time.Second, 5*time.Millisecond)
}

// TestRetryExhaustionMovesToDeadLetter: a job fails MaxRetries+1 times
// in a row and ends up in the dead-letter table instead of being
// requeued forever.
func TestRetryExhaustionMovesToDeadLetter(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	d := New(q, store, nil)

	jobID := seedJob(t, store, q, "flaky_parser")
	fw := newFakeWorker(t, d, "worker-1", []string{"*"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i <= catalog.MaxRetries; i++ {
		_, payload := fw.expectDispatch(t)
		require.Equal(t, "flaky_parser", payload.PluginName)
		fw.conclude(t, uint64(jobID), wire.ConcludeFailed, "boom")
	}

	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), jobID)
		return err == nil && job.Status == catalog.JobFailed
	}, time.Second, 5*time.Millisecond)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.DeadLetters)

	require.Eventually(t, func() bool {
		rows, err := store.ListQuarantined(context.Background())
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestAbortRequiresWorkerAck: Abort on a Running job sends Abort to the
// worker, and the worker's FAILED conclude with reason "aborted" moves
// the job to Aborted without creating a dead-letter row.
func TestAbortRequiresWorkerAck(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	d := New(q, store, nil)

	jobID := seedJob(t, store, q, "long_parser")
	fw := newFakeWorker(t, d, "worker-1", []string{"*"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	fw.expectDispatch(t)

	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), jobID)
		return err == nil && job.Status == catalog.JobRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Abort(jobID, "user requested cancel"))

	msg, err := fw.r.Read()
	require.NoError(t, err)
	require.Equal(t, wire.OpAbort, msg.Header.Op)

	fw.conclude(t, uint64(jobID), wire.ConcludeFailed, "aborted")

	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), jobID)
		return err == nil && job.Status == catalog.JobAborted
	}, time.Second, 5*time.Millisecond)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.DeadLetters)
}

// TestSchemaMismatchLandsInBucketWithoutRetry: a Conclude carrying a
// schema_mismatch detail fails the job terminally and records the
// violation, instead of cycling it through the retry path.
func TestSchemaMismatchLandsInBucketWithoutRetry(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	d := New(q, store, nil)

	jobID := seedJob(t, store, q, "drifting_parser")
	fw := newFakeWorker(t, d, "worker-1", []string{"*"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	fw.expectDispatch(t)
	require.NoError(t, wire.WriteMessage(fw.conn, wire.OpConclude, uint64(jobID), wire.ConcludePayload{
		Status: wire.ConcludeFailed,
		Error:  "output trades schema_hash mismatch",
		SchemaMismatch: &wire.SchemaMismatchWire{
			Output: "trades", ExpectedHash: "aaa", ActualHash: "bbb",
		},
	}))

	require.Eventually(t, func() bool {
		rows, err := store.ListSchemaMismatches(context.Background(), "drifting_parser")
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)

	job, err := q.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, job.Status)
	require.EqualValues(t, 0, job.RetryCount, "a schema mismatch is not retried")

	rows, err := store.ListSchemaMismatches(context.Background(), "drifting_parser")
	require.NoError(t, err)
	require.Equal(t, "trades", rows[0].OutputName)
	require.Equal(t, "aaa", rows[0].ExpectedHash)
	require.Equal(t, "bbb", rows[0].ActualHash)
}

// TestDispatchPassSkipsWhenNoCapableWorker verifies a job whose plugin
// no connected worker advertises is failed rather than left Queued
// indefinitely, and eventually dead-lettered once retries exhaust
// under the normal policy.
func TestDispatchPassSkipsWhenNoCapableWorker(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	d := New(q, store, nil)

	jobID := seedJob(t, store, q, "unsupported_parser")
	newFakeWorker(t, d, "worker-1", []string{"csv_parser"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), jobID)
		return err == nil && job.Status == catalog.JobFailed
	}, 2*time.Second, 10*time.Millisecond)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.DeadLetters)
}
