// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControlLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewControlLineWriter(&buf)

	require.NoError(t, w.Hello(HelloWire{Protocol: "1", ParserID: "csv_parser", ParserVersion: "1.0.0"}))
	require.NoError(t, w.OutputBegin(OutputBeginWire{Output: "lines", SchemaHash: "abc", StreamIndex: 0}))
	rows := int64(42)
	require.NoError(t, w.OutputEnd(OutputEndWire{Output: "lines", StreamIndex: 0, RowsEmitted: &rows}))
	require.NoError(t, w.Warning("slow file"))

	r := NewControlLineReader(&buf)

	hello, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, ControlLineHello, hello.Kind)
	require.Equal(t, "csv_parser", hello.Hello.ParserID)

	begin, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, ControlLineOutputBegin, begin.Kind)
	require.Equal(t, "lines", begin.OutputBegin.Output)
	require.EqualValues(t, 0, begin.OutputBegin.StreamIndex)

	end, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, ControlLineOutputEnd, end.Kind)
	require.EqualValues(t, 42, *end.OutputEnd.RowsEmitted)

	warn, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, ControlLineWarning, warn.Kind)
	require.Equal(t, "slow file", warn.Warning.Message)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestControlLineReaderSurfacesTerminalError(t *testing.T) {
	var buf bytes.Buffer
	w := NewControlLineWriter(&buf)
	require.NoError(t, w.Error("unrecoverable parse failure"))

	r := NewControlLineReader(&buf)
	line, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, ControlLineError, line.Kind)
	require.Equal(t, "unrecoverable parse failure", line.Error.Message)
}
