// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/sink"
	"github.com/casparianhq/flow/internal/wire"
)

// jobExecution runs exactly one dispatched job end to end: spawn the
// parser subprocess, speak the stderr-controlled/stdout-data protocol,
// route Arrow batches to sinks, and commit or roll back.
type jobExecution struct {
	r       *Runner
	jobID   uint64
	payload wire.DispatchPayload
	sinks   map[string]*sink.Sink

	schemaMismatch *wire.SchemaMismatchWire
}

func (r *Runner) executeJob(ctx context.Context, jobID uint64, payload wire.DispatchPayload) wire.ConcludePayload {
	je := &jobExecution{r: r, jobID: jobID, payload: payload, sinks: make(map[string]*sink.Sink)}
	summary, err := je.run(ctx)
	defer je.closeSinks()

	if err != nil {
		sink.RollbackAll(ctx, je.sinkList())
		return wire.ConcludePayload{Status: wire.ConcludeFailed, Error: err.Error(), SchemaMismatch: je.schemaMismatch}
	}
	return wire.ConcludePayload{Status: wire.ConcludeSuccess, Summary: summary}
}

func (je *jobExecution) sinkList() []*sink.Sink {
	out := make([]*sink.Sink, 0, len(je.sinks))
	for _, s := range je.sinks {
		out = append(out, s)
	}
	return out
}

func (je *jobExecution) closeSinks() {
	for _, s := range je.sinks {
		_ = s.Close()
	}
}

func (je *jobExecution) sinkFor(topic string) (*sink.Sink, error) {
	if s, ok := je.sinks[topic]; ok {
		return s, nil
	}
	for _, spec := range je.payload.Sinks {
		if spec.TopicName != topic {
			continue
		}
		s, err := sink.New(sink.Config{
			Topic: catalog.TopicConfig{
				TopicName: spec.TopicName,
				URI:       spec.URI,
				Mode:      catalog.WriteMode(spec.Mode),
				SinkType:  catalog.SinkType(spec.SinkType),
			},
			JobID:          int64(je.jobID),
			ControlPlaneDB: je.r.cfg.ControlPlaneDB,
			ParquetOutDir:  je.r.cfg.ParquetOutDir,
		})
		if err != nil {
			return nil, fmt.Errorf("worker: open sink %s: %w", topic, err)
		}
		je.sinks[topic] = s
		return s, nil
	}
	return nil, fmt.Errorf("worker: job declared no sink for output topic %q", topic)
}

func (je *jobExecution) run(ctx context.Context) (string, error) {
	cmd, err := je.r.buildCommand(ctx, je.payload)
	if err != nil {
		return "", err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("worker: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("worker: start %s: %w", je.payload.Entrypoint, err)
	}

	ctrl := wire.NewControlLineReader(stderr)
	rowsTotal, err := je.drive(ctx, stdout, ctrl)

	waitErr := cmd.Wait()
	if err != nil {
		return "", err
	}
	if waitErr != nil {
		return "", fmt.Errorf("worker: subprocess exited: %w", waitErr)
	}

	if err := sink.CommitAll(ctx, je.sinkList()); err != nil {
		return "", fmt.Errorf("worker: commit outputs: %w", err)
	}
	return fmt.Sprintf("%d rows across %d outputs", rowsTotal, len(je.sinks)), nil
}

// drive owns the control/data interleaving: it blocks on stderr
// control frames and, between an output_begin/output_end pair, reads
// exactly that output's Arrow IPC stream from stdout.
func (je *jobExecution) drive(ctx context.Context, stdout io.Reader, ctrl *wire.ControlLineReader) (int64, error) {
	helloDeadline := time.Now().Add(HelloTimeout)
	first, err := ctrl.Next()
	if err != nil {
		return 0, fmt.Errorf("worker: read hello: %w", err)
	}
	if first.Kind != wire.ControlLineHello {
		return 0, fmt.Errorf("worker: expected hello frame first, got %q", first.Kind)
	}
	if time.Now().After(helloDeadline) {
		return 0, fmt.Errorf("worker: hello frame arrived after %s deadline", HelloTimeout)
	}

	var lastStreamIndex int64 = -1
	var rowsTotal int64

	for {
		line, err := ctrl.Next()
		if err == io.EOF {
			return rowsTotal, nil
		}
		if err != nil {
			return rowsTotal, fmt.Errorf("worker: read control frame: %w", err)
		}

		switch line.Kind {
		case wire.ControlLineWarning:
			je.r.log.Warn("worker.job.warning", "job_id", je.jobID, "message", line.Warning.Message)

		case wire.ControlLineError:
			return rowsTotal, fmt.Errorf("worker: parser reported error: %s", line.Error.Message)

		case wire.ControlLineOutputBegin:
			begin := line.OutputBegin
			if begin.StreamIndex != lastStreamIndex+1 {
				return rowsTotal, fmt.Errorf("worker: non-monotonic stream_index: got %d, want %d", begin.StreamIndex, lastStreamIndex+1)
			}
			lastStreamIndex = begin.StreamIndex

			if expected, ok := je.payload.Outputs[begin.Output]; ok && expected.SchemaHash != "" && expected.SchemaHash != begin.SchemaHash {
				je.schemaMismatch = &wire.SchemaMismatchWire{
					Output:       begin.Output,
					ExpectedHash: expected.SchemaHash,
					ActualHash:   begin.SchemaHash,
				}
				return rowsTotal, fmt.Errorf("worker: output %q schema_hash mismatch: manifest declares %s, parser sent %s",
					begin.Output, expected.SchemaHash, begin.SchemaHash)
			}

			rows, end, err := je.consumeOutput(ctx, stdout, ctrl, begin)
			if err != nil {
				return rowsTotal, err
			}
			rowsTotal += rows
			if end.RowsEmitted != nil && *end.RowsEmitted != rows {
				je.r.log.Warn("worker.job.rows_emitted_mismatch", "job_id", je.jobID, "output", begin.Output,
					"reported", *end.RowsEmitted, "counted", rows)
			}

		default:
			return rowsTotal, fmt.Errorf("worker: unexpected control frame %q before any output_begin", line.Kind)
		}
	}
}

// consumeOutput reads one output's Arrow IPC stream from stdout until
// end-of-stream, routing every record batch to that output's sink,
// then requires the matching output_end control frame.
func (je *jobExecution) consumeOutput(ctx context.Context, stdout io.Reader, ctrl *wire.ControlLineReader, begin *wire.OutputBeginWire) (int64, *wire.OutputEndWire, error) {
	s, err := je.sinkFor(begin.Output)
	if err != nil {
		return 0, nil, err
	}

	ipcReader, err := ipc.NewReader(stdout)
	if err != nil {
		return 0, nil, fmt.Errorf("worker: open arrow ipc stream for %q: %w", begin.Output, err)
	}
	defer ipcReader.Release()

	if err := s.Init(ctx, ipcReader.Schema()); err != nil {
		return 0, nil, fmt.Errorf("worker: init sink %q: %w", begin.Output, err)
	}

	var rows int64
	for ipcReader.Next() {
		rec := ipcReader.Record()
		rows += rec.NumRows()
		if err := s.WriteBatch(ctx, rec); err != nil {
			return rows, nil, fmt.Errorf("worker: write batch to %q: %w", begin.Output, err)
		}
	}
	if err := ipcReader.Err(); err != nil {
		return rows, nil, fmt.Errorf("worker: arrow ipc stream for %q: %w", begin.Output, err)
	}

	line, err := ctrl.Next()
	if err != nil {
		return rows, nil, fmt.Errorf("worker: read output_end for %q: %w", begin.Output, err)
	}
	if line.Kind != wire.ControlLineOutputEnd {
		return rows, nil, fmt.Errorf("worker: expected output_end for %q, got %q", begin.Output, line.Kind)
	}
	if line.OutputEnd.Output != begin.Output || line.OutputEnd.StreamIndex != begin.StreamIndex {
		return rows, nil, fmt.Errorf("worker: output_end %+v does not match output_begin %+v", line.OutputEnd, begin)
	}

	return rows, line.OutputEnd, nil
}

// buildCommand resolves the interpreter (PythonShim) or executable
// (Native) and returns the exec.Cmd that will speak the subprocess
// protocol on stdout/stderr.
func (r *Runner) buildCommand(ctx context.Context, payload wire.DispatchPayload) (*exec.Cmd, error) {
	switch payload.RuntimeKind {
	case RuntimeKindPythonShim:
		if r.cfg.EnvManager == nil {
			return nil, fmt.Errorf("worker: python_shim job dispatched but no env manager configured")
		}
		if r.cfg.PythonShimPath == "" {
			return nil, fmt.Errorf("worker: python_shim job dispatched but no shim path configured")
		}
		interpreter, err := r.cfg.EnvManager.GetOrCreate(ctx, payload.EnvHash, payload.SourceCode, "")
		if err != nil {
			return nil, fmt.Errorf("worker: resolve venv for env_hash %s: %w", payload.EnvHash, err)
		}
		cmd := exec.CommandContext(ctx, interpreter, r.cfg.PythonShimPath, payload.Entrypoint, payload.FilePath)
		cmd.Env = append(os.Environ(), "VIRTUAL_ENV="+virtualEnvRoot(interpreter))
		return cmd, nil

	case RuntimeKindNative:
		return exec.CommandContext(ctx, payload.Entrypoint, payload.FilePath), nil

	default:
		return nil, fmt.Errorf("worker: unknown runtime_kind %q", payload.RuntimeKind)
	}
}

func virtualEnvRoot(interpreter string) string {
	// interpreter is .../<env_hash>/bin/python (or Scripts/python.exe);
	// VIRTUAL_ENV points at the env root two levels up.
	dir := interpreter
	for i := 0; i < 2; i++ {
		idx := bytes.LastIndexByte([]byte(dir), os.PathSeparator)
		if idx < 0 {
			return dir
		}
		dir = dir[:idx]
	}
	return dir
}
