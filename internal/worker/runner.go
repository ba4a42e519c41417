// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casparianhq/flow/internal/wire"
)

// Runner is the Worker runtime: it connects to a Sentinel, identifies
// itself, and services Dispatch/Abort/Heartbeat messages one job at a
// time.
type Runner struct {
	cfg Config
	log *slog.Logger

	conn   net.Conn
	reader *wire.Reader
	sendMu sync.Mutex

	mu         sync.Mutex
	currentJob uint64 // 0 when idle
	cancelJob  context.CancelFunc

	shuttingDown atomic.Bool
}

// New returns a Runner. logger defaults to slog.Default when nil.
func New(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg.withDefaults(), log: logger}
}

// UseConn wires an already-established connection in place of Connect,
// for tests that drive a Runner over net.Pipe rather than a real TCP
// dial.
func (r *Runner) UseConn(conn net.Conn) {
	r.conn = conn
	r.reader = wire.NewReader(conn)
}

// Connect dials the Sentinel and sends Identify. Must be called before
// Run.
func (r *Runner) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", r.cfg.SentinelAddr)
	if err != nil {
		return fmt.Errorf("worker: dial %s: %w", r.cfg.SentinelAddr, err)
	}
	r.conn = conn
	r.reader = wire.NewReader(conn)

	if err := r.send(wire.OpIdentify, 0, wire.IdentifyPayload{
		WorkerID:     r.cfg.WorkerID,
		Capabilities: r.cfg.Capabilities,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("worker: send identify: %w", err)
	}
	r.log.Info("worker.identified", "worker_id", r.cfg.WorkerID, "capabilities", r.cfg.Capabilities, "sentinel_addr", r.cfg.SentinelAddr)
	return nil
}

// RunOnce executes a single job synchronously, in-process, bypassing
// the Sentinel dispatch loop entirely. It exists for the `casparian
// run` CLI command, which invokes one parser against one input ad hoc
// rather than through the queue.
func (r *Runner) RunOnce(ctx context.Context, jobID uint64, payload wire.DispatchPayload) wire.ConcludePayload {
	return r.executeJob(ctx, jobID, payload)
}

func (r *Runner) send(op wire.OpCode, jobID uint64, payload any) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return wire.WriteMessage(r.conn, op, jobID, payload)
}

// Run services frames from the Sentinel until ctx is cancelled or the
// connection closes. On ctx cancellation it performs the graceful
// shutdown sequence: finish (or fail) the active job, emit Conclude,
// and return.
func (r *Runner) Run(ctx context.Context) error {
	defer r.conn.Close()

	msgCh := make(chan wire.Message)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := r.reader.Read()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	heartbeat := time.NewTicker(r.cfg.HeartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shuttingDown.Store(true)
			r.awaitActiveJob()
			return ctx.Err()

		case err := <-errCh:
			return fmt.Errorf("worker: connection closed: %w", err)

		case <-heartbeat.C:
			if err := r.send(wire.OpHeartbeat, 0, wire.HeartbeatPayload{}); err != nil {
				r.log.Warn("worker.heartbeat_send_failed", "err", err)
			}

		case msg := <-msgCh:
			r.handle(ctx, msg)
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg wire.Message) {
	switch msg.Header.Op {
	case wire.OpDispatch:
		r.handleDispatch(ctx, msg)
	case wire.OpAbort:
		r.handleAbort(msg)
	case wire.OpHeartbeat:
		// Sentinel mirrors heartbeats; no action needed beyond having
		// received one (liveness is driven by our own ticker).
	default:
		r.log.Warn("worker.unexpected_opcode", "op", msg.Header.Op.String())
	}
}

func (r *Runner) handleDispatch(ctx context.Context, msg wire.Message) {
	var payload wire.DispatchPayload
	if err := msg.Decode(&payload); err != nil {
		r.log.Error("worker.dispatch.decode_failed", "err", err)
		return
	}
	if r.shuttingDown.Load() {
		_ = r.send(wire.OpConclude, msg.Header.JobID, wire.ConcludePayload{
			Status: wire.ConcludeFailed, Error: "worker is shutting down",
		})
		return
	}

	r.mu.Lock()
	if r.currentJob != 0 {
		r.mu.Unlock()
		r.log.Warn("worker.dispatch.rejected_busy", "job_id", msg.Header.JobID, "active_job_id", r.currentJob)
		_ = r.send(wire.OpConclude, msg.Header.JobID, wire.ConcludePayload{
			Status: wire.ConcludeFailed, Error: "worker already has an active job",
		})
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	r.currentJob = msg.Header.JobID
	r.cancelJob = cancel
	r.mu.Unlock()

	r.log.Info("worker.job.dispatched", "job_id", msg.Header.JobID, "plugin_name", payload.PluginName, "runtime_kind", payload.RuntimeKind)

	// The job runs on its own goroutine so this loop stays free to
	// service Abort and Heartbeat frames while it executes. At most one
	// is active at a time; currentJob guards against a second Dispatch.
	go func() {
		result := r.executeJob(jobCtx, msg.Header.JobID, payload)
		aborted := jobCtx.Err() != nil && !r.shuttingDown.Load()

		r.mu.Lock()
		r.currentJob = 0
		r.cancelJob = nil
		r.mu.Unlock()
		cancel()

		if result.Status == wire.ConcludeFailed && aborted {
			result.Error = "aborted"
		}
		if result.Status == wire.ConcludeSuccess {
			r.log.Info("worker.job.completed", "job_id", msg.Header.JobID, "summary", result.Summary)
		} else {
			r.log.Warn("worker.job.failed", "job_id", msg.Header.JobID, "error", result.Error)
		}
		if err := r.send(wire.OpConclude, msg.Header.JobID, result); err != nil {
			r.log.Error("worker.conclude_send_failed", "job_id", msg.Header.JobID, "err", err)
		}
	}()
}

func (r *Runner) handleAbort(msg wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentJob != msg.Header.JobID || r.cancelJob == nil {
		return
	}
	r.log.Info("worker.job.abort_requested", "job_id", msg.Header.JobID)
	r.cancelJob()
}

// awaitActiveJob blocks, without a fixed timeout, until the active job
// (if any) has been cancelled and observed by the dispatch goroutine;
// handleDispatch's own cancel()+Conclude sequence is what actually
// unblocks it, so this is a simple poll rather than a second channel.
func (r *Runner) awaitActiveJob() {
	for {
		r.mu.Lock()
		active := r.currentJob != 0
		cancel := r.cancelJob
		r.mu.Unlock()
		if !active {
			return
		}
		if cancel != nil {
			cancel()
		}
		time.Sleep(50 * time.Millisecond)
	}
}
