// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"
)

// parquetEngine writes Arrow batches to output/<topic>/<artifact>.parquet,
// staging to a .tmp sibling and renaming it into place on commit.
type parquetEngine struct {
	cfg        Config
	stagePath  string
	finalPath  string
	file       *os.File
	writer     *pqarrow.FileWriter
	rolledBack bool
}

func newParquetEngine(cfg Config) *parquetEngine {
	return &parquetEngine{cfg: cfg}
}

func (e *parquetEngine) Init(ctx context.Context, schema *arrow.Schema) error {
	dir := filepath.Join(e.cfg.ParquetOutDir, e.cfg.Topic.TopicName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sink/parquet: mkdir %s: %w", dir, err)
	}

	artifact := fmt.Sprintf("%s-%s", e.cfg.Topic.TopicName, uuid.NewString())
	e.finalPath = filepath.Join(dir, artifact+".parquet")
	e.stagePath = e.finalPath + ".tmp"

	f, err := os.Create(e.stagePath)
	if err != nil {
		return fmt.Errorf("sink/parquet: create stage %s: %w", e.stagePath, err)
	}
	e.file = f

	props := parquet.NewWriterProperties(parquet.WithCompression(compressionCodec()))
	writer, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return fmt.Errorf("sink/parquet: new writer: %w", err)
	}
	e.writer = writer
	return nil
}

func (e *parquetEngine) WriteBatch(ctx context.Context, rec arrow.Record) error {
	if e.writer == nil {
		return fmt.Errorf("sink/parquet: write before init")
	}
	if err := e.writer.WriteBuffered(rec); err != nil {
		return fmt.Errorf("sink/parquet: write batch: %w", err)
	}
	return nil
}

func (e *parquetEngine) Prepare(ctx context.Context) error {
	if e.writer == nil {
		return nil
	}
	if err := e.writer.Close(); err != nil {
		return fmt.Errorf("sink/parquet: close writer: %w", err)
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("sink/parquet: close stage file: %w", err)
	}
	return nil
}

// Commit renames the staged file into place.
func (e *parquetEngine) Commit(ctx context.Context) error {
	if e.stagePath == "" {
		return nil
	}
	if err := os.Rename(e.stagePath, e.finalPath); err != nil {
		return fmt.Errorf("sink/parquet: promote %s: %w", e.stagePath, err)
	}
	e.stagePath = ""
	return nil
}

func (e *parquetEngine) Rollback(ctx context.Context) error {
	if e.rolledBack || e.stagePath == "" {
		return nil
	}
	e.rolledBack = true
	if err := os.Remove(e.stagePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sink/parquet: remove stage %s: %w", e.stagePath, err)
	}
	return nil
}

func compressionCodec() compress.Compression {
	return compress.Codecs.Snappy
}
