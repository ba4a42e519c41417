// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
}

func testRecord(t *testing.T, schema *arrow.Schema, ids []int64, names []string) arrow.Record {
	t.Helper()
	pool := memory.NewGoAllocator()
	idBuilder := array.NewInt64Builder(pool)
	defer idBuilder.Release()
	idBuilder.AppendValues(ids, nil)

	nameBuilder := array.NewStringBuilder(pool)
	defer nameBuilder.Release()
	nameBuilder.AppendValues(names, nil)

	idArr := idBuilder.NewArray()
	defer idArr.Release()
	nameArr := nameBuilder.NewArray()
	defer nameArr.Release()

	return array.NewRecord(schema, []arrow.Array{idArr, nameArr}, int64(len(ids)))
}

func TestParquetEngineCommitRenamesFromStaging(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Topic:         catalog.TopicConfig{TopicName: "extracted_lines", Mode: catalog.WriteModeAppend, SinkType: catalog.SinkTypeParquet},
		ParquetOutDir: dir,
	}

	s, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, catalog.SinkTypeParquet, s.Kind)

	schema := testSchema()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, schema))

	rec := testRecord(t, schema, []int64{1, 2}, []string{"a", "b"})
	defer rec.Release()
	require.NoError(t, s.WriteBatch(ctx, rec))

	require.NoError(t, CommitAll(ctx, []*Sink{s}))

	finalPath := s.parquet.finalPath
	require.FileExists(t, finalPath)
	require.Equal(t, dir+"/extracted_lines", filepath.Dir(finalPath))
}

func TestParquetEngineRollbackRemovesStaging(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Topic:         catalog.TopicConfig{TopicName: "extracted_lines", SinkType: catalog.SinkTypeParquet},
		ParquetOutDir: dir,
	}
	s, err := New(cfg)
	require.NoError(t, err)

	schema := testSchema()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, schema))
	require.NoError(t, s.Prepare(ctx))

	stagePath := s.parquet.stagePath
	require.FileExists(t, stagePath)

	require.NoError(t, s.Rollback(ctx))
	require.NoFileExists(t, stagePath)

	// Idempotent: calling Rollback again is a no-op, not an error.
	require.NoError(t, s.Rollback(ctx))
}

func TestNewRejectsUnknownSinkType(t *testing.T) {
	_, err := New(Config{Topic: catalog.TopicConfig{SinkType: "bogus"}})
	require.Error(t, err)
}
