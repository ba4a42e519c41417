// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/wire"
)

func TestStreamEmitsBatchesAndDone(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.csv")
	writeFile(t, root, "sub/b.csv")
	writeFile(t, root, ".git/config")

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	require.NoError(t, Stream(context.Background(), root, catalog.SourceTypeLocal, cfg, wire.NewScanLineWriter(&buf)))

	r := wire.NewScanLineReader(&buf)
	var files []wire.ScannedFileWire
	var doneCount int
	var done *wire.ScanStatsWire
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch line.Kind {
		case wire.ScanLineBatch:
			files = append(files, line.Batch...)
		case wire.ScanLineDone:
			doneCount++
			done = line.Done
		}
	}

	require.Equal(t, 1, doneCount, "exactly one Done terminates a run")
	require.NotNil(t, done)
	require.EqualValues(t, 2, done.FilesDiscovered)
	require.EqualValues(t, 2, done.BytesScanned)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.RelPath
		require.NotEmpty(t, f.FileUID)
		require.EqualValues(t, 1, f.Size)
	}
	sort.Strings(paths)
	require.Equal(t, []string{"a.csv", "sub/b.csv"}, paths)
}

func TestStreamFailsOnMissingRoot(t *testing.T) {
	var buf bytes.Buffer
	err := Stream(context.Background(), "/nonexistent/scan/root", catalog.SourceTypeLocal, DefaultConfig(), wire.NewScanLineWriter(&buf))
	require.Error(t, err)
	require.Zero(t, buf.Len(), "no frames are written when the root is missing")
}
