// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/queue"
	"github.com/casparianhq/flow/internal/wire"
)

// DefaultStaleThreshold is used when Dispatcher is constructed without
// an explicit one; deployments with slow heartbeat cadences can raise
// Dispatcher.StaleThreshold instead of living with a pinned constant.
const DefaultStaleThreshold = 30 * time.Second

// connEvent is one decoded frame (or a connection close) handed from a
// per-connection reader goroutine to the single dispatch event loop.
type connEvent struct {
	identity string
	conn     net.Conn
	msg      wire.Message
	closed   bool
}

// Dispatcher is the Sentinel: a single event loop fed by per-connection
// readers. Worker state is guarded by mu; besides the loop, only Abort
// changes it, from the caller's goroutine.
type Dispatcher struct {
	queue          *queue.Queue
	store          *catalog.Store
	log            *slog.Logger
	StaleThreshold time.Duration

	Metrics Metrics

	mu      sync.Mutex
	workers map[string]*ConnectedWorker

	events chan connEvent
}

// New returns a Dispatcher backed by q and store (used to resolve
// plugin manifests and topic configs for Dispatch payloads).
func New(q *queue.Queue, store *catalog.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:          q,
		store:          store,
		log:            logger,
		StaleThreshold: DefaultStaleThreshold,
		workers:        make(map[string]*ConnectedWorker),
		events:         make(chan connEvent, 64),
	}
}

// ListenAndServe binds addr, accepts worker connections, and runs the
// event loop until ctx is cancelled.
func (d *Dispatcher) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sentinel: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go d.acceptLoop(ln)
	return d.Run(ctx)
}

func (d *Dispatcher) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.HandleConn(conn)
	}
}

// HandleConn starts a reader goroutine for an already-accepted
// connection. Exported so tests (and non-TCP transports such as
// net.Pipe) can feed connections into the dispatcher without binding a
// real listener.
func (d *Dispatcher) HandleConn(conn net.Conn) {
	go d.readLoop(conn)
}

// readLoop owns exactly one connection's reads and forwards every
// frame to the event loop; it never mutates dispatcher state itself.
// identity is derived from the connection's address rather than a
// shared counter since multiple goroutines may call HandleConn
// concurrently with no synchronization between them.
func (d *Dispatcher) readLoop(conn net.Conn) {
	identity := fmt.Sprintf("%p", conn)
	r := wire.NewReader(conn)
	for {
		msg, err := r.Read()
		if err != nil {
			d.events <- connEvent{identity: identity, conn: conn, closed: true}
			return
		}
		d.events <- connEvent{identity: identity, conn: conn, msg: msg}
	}
}

// Run is the single-threaded event loop: poll for at most 100ms, then
// unconditionally run a dispatch pass and a stale-worker sweep.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			d.handleEvent(ctx, ev)
		case <-ticker.C:
		}
		d.dispatchPass(ctx)
		d.sweepStale(ctx)
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev connEvent) {
	d.Metrics.MessagesRecv.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()

	if ev.closed {
		delete(d.workers, ev.identity)
		return
	}

	switch ev.msg.Header.Op {
	case wire.OpIdentify:
		var p wire.IdentifyPayload
		if err := ev.msg.Decode(&p); err != nil {
			d.log.Warn("sentinel.identify.decode_error", "err", err)
			return
		}
		d.workers[ev.identity] = &ConnectedWorker{
			WorkerID:     p.WorkerID,
			Conn:         ev.conn,
			Status:       WorkerIdle,
			Capabilities: newCapabilitySet(p.Capabilities),
			LastSeen:     time.Now(),
		}
		d.log.Info("sentinel.worker.identified", "worker_id", p.WorkerID, "capabilities", p.Capabilities)

	case wire.OpHeartbeat:
		w, ok := d.workers[ev.identity]
		if !ok {
			return
		}
		w.LastSeen = time.Now()
		d.send(w, wire.OpHeartbeat, 0, wire.HeartbeatPayload{})

	case wire.OpConclude:
		d.handleConclude(ctx, ev)

	case wire.OpErr:
		w, ok := d.workers[ev.identity]
		if !ok {
			return
		}
		w.LastSeen = time.Now()
		var p wire.ErrPayload
		_ = ev.msg.Decode(&p)
		if w.CurrentJobID != 0 {
			d.failAndMaybeRetry(ctx, w.CurrentJobID, p.Message)
		}
		w.Status = WorkerIdle
		w.CurrentJobID = 0
	}
}

func (d *Dispatcher) handleConclude(ctx context.Context, ev connEvent) {
	start := time.Now()
	defer func() { d.Metrics.ConcludeTimeUs.Store(uint64(time.Since(start).Microseconds())) }()

	w, ok := d.workers[ev.identity]
	if !ok {
		return
	}
	var p wire.ConcludePayload
	if err := ev.msg.Decode(&p); err != nil {
		d.log.Warn("sentinel.conclude.decode_error", "err", err)
		return
	}

	jobID := w.CurrentJobID
	w.Status = WorkerIdle
	w.CurrentJobID = 0
	wasAwaitingAbort := w.awaitingAbortAck
	w.awaitingAbortAck = false

	if jobID == 0 {
		return
	}

	switch {
	case wasAwaitingAbort && p.Status == wire.ConcludeFailed:
		if err := d.queue.Cancel(ctx, jobID); err != nil {
			d.log.Error("sentinel.abort.cancel_failed", "job_id", jobID, "err", err)
		}
	case p.Status == wire.ConcludeSuccess:
		if err := d.queue.Complete(ctx, jobID, p.Summary); err != nil {
			d.log.Error("sentinel.conclude.complete_failed", "job_id", jobID, "err", err)
			return
		}
		d.Metrics.JobsCompleted.Add(1)
	case p.SchemaMismatch != nil:
		d.handleSchemaMismatch(ctx, jobID, p)
	default:
		d.failAndMaybeRetry(ctx, jobID, p.Error)
	}
}

// handleSchemaMismatch files a schema violation in its bucket and
// fails the job terminally: the manifest and parser disagree, so a
// retry would reproduce the same violation.
func (d *Dispatcher) handleSchemaMismatch(ctx context.Context, jobID int64, p wire.ConcludePayload) {
	if err := d.queue.Fail(ctx, jobID, p.Error); err != nil {
		d.log.Error("sentinel.schema_mismatch.fail_failed", "job_id", jobID, "err", err)
		return
	}
	d.Metrics.JobsFailed.Add(1)

	pluginName := ""
	if job, err := d.queue.Get(ctx, jobID); err == nil && job != nil {
		pluginName = job.PluginName
	}
	if _, err := d.store.RecordSchemaMismatch(ctx, catalog.SchemaMismatch{
		JobID:        jobID,
		PluginName:   pluginName,
		OutputName:   p.SchemaMismatch.Output,
		ExpectedHash: p.SchemaMismatch.ExpectedHash,
		ActualHash:   p.SchemaMismatch.ActualHash,
		CreatedAt:    time.Now().UnixMilli(),
	}); err != nil {
		d.log.Error("sentinel.schema_mismatch.record_failed", "job_id", jobID, "err", err)
		return
	}
	d.log.Warn("sentinel.schema_mismatch.recorded", "job_id", jobID, "plugin_name", pluginName,
		"output", p.SchemaMismatch.Output)
}

func (d *Dispatcher) failAndMaybeRetry(ctx context.Context, jobID int64, errMsg string) {
	if err := d.queue.Fail(ctx, jobID, errMsg); err != nil {
		d.log.Error("sentinel.fail_failed", "job_id", jobID, "err", err)
		return
	}
	d.Metrics.JobsFailed.Add(1)
	result, err := d.queue.Requeue(ctx, jobID)
	if err != nil {
		d.log.Error("sentinel.requeue_failed", "job_id", jobID, "err", err)
		return
	}
	if result == catalog.RequeuedToQueue {
		d.Metrics.JobsRetried.Add(1)
		return
	}

	// Retries exhausted: record the job's file in the quarantine bucket
	// alongside the dead-letter row.
	job, err := d.queue.Get(ctx, jobID)
	if err != nil || job == nil || !job.FileID.Valid {
		return
	}
	if _, err := d.store.Quarantine(ctx, job.FileID.Int64, &jobID, errMsg, time.Now().UnixMilli()); err != nil {
		d.log.Warn("sentinel.quarantine_failed", "job_id", jobID, "err", err)
	}
}

// dispatchPass runs unconditionally after every poll tick: at most one
// job is handed to at most one idle, capable worker.
func (d *Dispatcher) dispatchPass(ctx context.Context) {
	start := time.Now()
	defer func() { d.Metrics.DispatchTimeUs.Store(uint64(time.Since(start).Microseconds())) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.anyIdleLocked() {
		return
	}

	job, err := d.queue.PopNext(ctx)
	if err != nil {
		d.log.Error("sentinel.pop_next_failed", "err", err)
		return
	}
	if job == nil {
		return
	}

	worker := d.pickIdleCapableLocked(job.PluginName)
	if worker == nil {
		d.failAndMaybeRetry(ctx, job.ID, "No capable worker available")
		d.Metrics.JobsRejected.Add(1)
		return
	}

	payload, err := d.buildDispatchPayload(ctx, job)
	if err != nil {
		d.log.Error("sentinel.build_dispatch_failed", "job_id", job.ID, "err", err)
		d.failAndMaybeRetry(ctx, job.ID, err.Error())
		return
	}

	worker.Status = WorkerBusy
	worker.CurrentJobID = job.ID
	d.send(worker, wire.OpDispatch, uint64(job.ID), payload)
	d.Metrics.JobsDispatched.Add(1)
}

func (d *Dispatcher) anyIdleLocked() bool {
	for _, w := range d.workers {
		if w.Status == WorkerIdle {
			return true
		}
	}
	return false
}

func (d *Dispatcher) pickIdleCapableLocked(pluginName string) *ConnectedWorker {
	for _, w := range d.workers {
		if w.Status == WorkerIdle && w.canRun(pluginName) {
			return w
		}
	}
	return nil
}

func (d *Dispatcher) buildDispatchPayload(ctx context.Context, job *catalog.Job) (wire.DispatchPayload, error) {
	payload := wire.DispatchPayload{PluginName: job.PluginName}

	if job.FileID.Valid {
		f, err := d.store.GetFile(ctx, job.FileID.Int64)
		if err != nil {
			return payload, fmt.Errorf("resolve file: %w", err)
		}
		if f != nil {
			payload.FilePath = f.FullPath
			payload.FileID = f.ID
		}
	}

	manifest, err := d.store.LatestActivePlugin(ctx, job.PluginName)
	if err != nil {
		return payload, fmt.Errorf("resolve plugin manifest: %w", err)
	}
	if manifest != nil {
		payload.RuntimeKind = string(manifest.RuntimeKind)
		payload.Entrypoint = manifest.Entrypoint
		payload.ParserVersion = manifest.Version
		payload.SignatureVerified = manifest.SignatureVerified
		payload.ArtifactHash = manifest.ArtifactHash
		if manifest.EnvHash.Valid {
			payload.EnvHash = manifest.EnvHash.String
		}
		if manifest.SourceCode.Valid {
			payload.SourceCode = manifest.SourceCode.String
		}
		if manifest.OutputsJSON != "" {
			var outputs map[string]wire.OutputSpec
			if err := json.Unmarshal([]byte(manifest.OutputsJSON), &outputs); err != nil {
				d.log.Warn("sentinel.dispatch.outputs_decode_failed", "plugin_name", job.PluginName, "err", err)
			} else {
				payload.Outputs = outputs
			}
		}
	}

	topics, err := d.store.ListTopicConfigs(ctx, job.PluginName)
	if err != nil {
		return payload, fmt.Errorf("list topic configs: %w", err)
	}
	for _, t := range topics {
		if t.Enabled {
			payload.Sinks = append(payload.Sinks, wire.SinkSpec{
				TopicName: t.TopicName,
				URI:       t.URI,
				Mode:      string(t.Mode),
				SinkType:  string(t.SinkType),
			})
		}
	}

	return payload, nil
}

// sweepStale reassigns jobs held by workers that have gone quiet past
// StaleThreshold, and drops them from the connected-worker map.
func (d *Dispatcher) sweepStale(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for identity, w := range d.workers {
		if now.Sub(w.LastSeen) <= d.StaleThreshold {
			continue
		}
		if w.CurrentJobID != 0 {
			if _, err := d.queue.Requeue(ctx, w.CurrentJobID); err != nil {
				d.log.Error("sentinel.stale_requeue_failed", "job_id", w.CurrentJobID, "err", err)
			} else {
				d.Metrics.JobsRetried.Add(1)
			}
		}
		d.log.Warn("sentinel.worker.stale", "worker_id", w.WorkerID, "last_seen", w.LastSeen)
		delete(d.workers, identity)
	}
}

// Abort asks the worker holding jobID to stop. The worker's subsequent
// Conclude{FAILED,"aborted"} is translated to a terminal Aborted state
// rather than a retryable failure.
func (d *Dispatcher) Abort(jobID int64, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range d.workers {
		if w.CurrentJobID == jobID {
			w.awaitingAbortAck = true
			d.send(w, wire.OpAbort, uint64(jobID), wire.AbortPayload{Reason: reason})
			return nil
		}
	}
	return fmt.Errorf("sentinel: no worker currently holds job %d", jobID)
}

func (d *Dispatcher) send(w *ConnectedWorker, op wire.OpCode, jobID uint64, payload any) {
	if err := wire.WriteMessage(w.Conn, op, jobID, payload); err != nil {
		d.log.Error("sentinel.send_failed", "worker_id", w.WorkerID, "op", op.String(), "err", err)
		return
	}
	d.Metrics.MessagesSent.Add(1)
}
