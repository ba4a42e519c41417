// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/wire"
)

// fakeSentinel is an in-memory Sentinel endpoint built over net.Pipe,
// used to drive the worker's event loop without a real TCP socket.
type fakeSentinel struct {
	conn net.Conn
	r    *wire.Reader
}

func newFakeSentinel(t *testing.T, runner *Runner) *fakeSentinel {
	t.Helper()
	client, server := net.Pipe()
	runner.UseConn(server)
	return &fakeSentinel{conn: client, r: wire.NewReader(client)}
}

func (fs *fakeSentinel) expectIdentify(t *testing.T) wire.IdentifyPayload {
	t.Helper()
	// identify happens in Connect, which this test bypasses via
	// UseConn; callers that need it send it explicitly.
	msg, err := fs.r.Read()
	require.NoError(t, err)
	require.Equal(t, wire.OpIdentify, msg.Header.Op)
	var p wire.IdentifyPayload
	require.NoError(t, msg.Decode(&p))
	return p
}

func TestRunnerRejectsDispatchWithUnknownRuntimeKind(t *testing.T) {
	r := New(Config{WorkerID: "w1", HeartbeatEvery: time.Hour}, nil)
	fs := newFakeSentinel(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, wire.WriteMessage(fs.conn, wire.OpDispatch, 7, wire.DispatchPayload{
		PluginName: "csv_parser", RuntimeKind: "bogus_kind", Entrypoint: "parse.py",
	}))

	msg, err := fs.r.Read()
	require.NoError(t, err)
	require.Equal(t, wire.OpConclude, msg.Header.Op)
	require.EqualValues(t, 7, msg.Header.JobID)
	var p wire.ConcludePayload
	require.NoError(t, msg.Decode(&p))
	require.Equal(t, wire.ConcludeFailed, p.Status)
	require.Contains(t, p.Error, "unknown runtime_kind")

	cancel()
	fs.conn.Close()
	<-done
}

func TestRunnerAbortMidJobConcludesAborted(t *testing.T) {
	r := New(Config{WorkerID: "w1", HeartbeatEvery: time.Hour}, nil)
	fs := newFakeSentinel(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// sleep never speaks the subprocess protocol, so the job blocks
	// waiting for its hello frame until the abort kills it.
	require.NoError(t, wire.WriteMessage(fs.conn, wire.OpDispatch, 11, wire.DispatchPayload{
		PluginName: "sleeper", RuntimeKind: RuntimeKindNative, Entrypoint: "sleep", FilePath: "30",
	}))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, wire.WriteMessage(fs.conn, wire.OpAbort, 11, wire.AbortPayload{Reason: "test"}))

	msg, err := fs.r.Read()
	require.NoError(t, err)
	require.Equal(t, wire.OpConclude, msg.Header.Op)
	require.EqualValues(t, 11, msg.Header.JobID)
	var p wire.ConcludePayload
	require.NoError(t, msg.Decode(&p))
	require.Equal(t, wire.ConcludeFailed, p.Status)
	require.Equal(t, "aborted", p.Error)

	cancel()
	fs.conn.Close()
	<-done
}

func TestRunnerAbortCancelsActiveJob(t *testing.T) {
	r := New(Config{WorkerID: "w1", HeartbeatEvery: time.Hour}, nil)

	r.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	r.currentJob = 9
	r.cancelJob = cancel
	r.mu.Unlock()

	r.handleAbort(wire.Message{Header: wire.Header{Op: wire.OpAbort, JobID: 9}})

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("abort did not cancel the active job's context")
	}
}
