// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/sink"
	"github.com/casparianhq/flow/internal/wire"
)

func testArrowStream(t *testing.T, schema *arrow.Schema, ids []int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))

	pool := memory.NewGoAllocator()
	b := array.NewInt64Builder(pool)
	b.AppendValues(ids, nil)
	arr := b.NewArray()
	defer arr.Release()
	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(len(ids)))
	defer rec.Release()

	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestConsumeOutputRoutesBatchesToSink(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	streamBytes := testArrowStream(t, schema, []int64{1, 2, 3})

	dir := t.TempDir()
	je := &jobExecution{
		r: New(Config{ParquetOutDir: dir}, slog.Default()),
		payload: wire.DispatchPayload{
			Sinks: []wire.SinkSpec{{TopicName: "lines", SinkType: "parquet", Mode: "append"}},
		},
		sinks: make(map[string]*sink.Sink),
	}

	begin := &wire.OutputBeginWire{Output: "lines", SchemaHash: "", StreamIndex: 0}
	ctrlBuf := new(bytes.Buffer)
	ctrlW := wire.NewControlLineWriter(ctrlBuf)
	require.NoError(t, ctrlW.OutputEnd(wire.OutputEndWire{Output: "lines", StreamIndex: 0}))
	ctrl := wire.NewControlLineReader(ctrlBuf)

	rows, end, err := je.consumeOutput(context.Background(), bytes.NewReader(streamBytes), ctrl, begin)
	require.NoError(t, err)
	require.EqualValues(t, 3, rows)
	require.Equal(t, "lines", end.Output)
}

func TestDriveRejectsNonMonotonicStreamIndex(t *testing.T) {
	je := &jobExecution{
		r:       New(Config{ParquetOutDir: t.TempDir()}, slog.Default()),
		payload: wire.DispatchPayload{Sinks: []wire.SinkSpec{{TopicName: "lines", SinkType: "parquet", Mode: "append"}}},
		sinks:   make(map[string]*sink.Sink),
	}

	ctrlBuf := new(bytes.Buffer)
	ctrlW := wire.NewControlLineWriter(ctrlBuf)
	require.NoError(t, ctrlW.Hello(wire.HelloWire{Protocol: "1", ParserID: "p", ParserVersion: "1"}))
	require.NoError(t, ctrlW.OutputBegin(wire.OutputBeginWire{Output: "lines", StreamIndex: 5}))
	ctrl := wire.NewControlLineReader(ctrlBuf)

	_, err := je.drive(context.Background(), bytes.NewReader(nil), ctrl)
	require.Error(t, err)
}

func TestVirtualEnvRootStripsBinAndInterpreter(t *testing.T) {
	got := virtualEnvRoot("/home/user/.casparian_flow/venvs/abc123/bin/python")
	require.Equal(t, "/home/user/.casparian_flow/venvs/abc123", got)
}
