// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/wire"
)

// helperBinary is the name of the scanner subprocess helper, resolved
// via PATH at spawn time.
const helperBinary = "casparian-scout-scan"

// SubprocessScanner drives the casparian-scout-scan helper and applies
// the same persistence path as the in-process engine to whatever it
// streams back.
type SubprocessScanner struct {
	store *catalog.Store
	cfg   Config
	log   *slog.Logger
}

// NewSubprocess returns a SubprocessScanner backed by store.
func NewSubprocess(store *catalog.Store, cfg Config, logger *slog.Logger) *SubprocessScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessScanner{store: store, cfg: cfg, log: logger}
}

func (c Config) cliArgs(sourcePath string) []string {
	args := []string{sourcePath,
		"--threads", strconv.Itoa(c.threads()),
		"--batch-size", strconv.Itoa(c.batchSize()),
	}
	if c.IncludeHidden {
		args = append(args, "--include-hidden")
	}
	if c.FollowSymlinks {
		args = append(args, "--follow-symlinks")
	}
	for _, name := range c.ExcludeDirNames {
		args = append(args, "--exclude-dir", name)
	}
	for _, pattern := range c.ExcludePathPatterns {
		args = append(args, "--exclude-path", pattern)
	}
	if c.ComputeStats {
		args = append(args, "--compute-stats")
	}
	if c.MaxDepth > 0 {
		args = append(args, "--depth", strconv.Itoa(c.MaxDepth))
	}
	if c.MinSize > 0 {
		args = append(args, "--min-size", strconv.FormatInt(c.MinSize, 10))
	}
	if c.MaxSize > 0 {
		args = append(args, "--max-size", strconv.FormatInt(c.MaxSize, 10))
	}
	for _, ext := range c.IncludeExts {
		args = append(args, "--types", ext)
	}
	return args
}

// Scan spawns the helper, reads its newline-delimited JSON stdout, and
// persists each Batch through the same BatchUpsert path as the
// in-process engine. No tagger is applied: every file is stored with
// TagSource none. A
// nonzero helper exit is a hard error; prior batches are retained but
// delete detection and cache seeding are skipped (the same partial
// failure contract the in-process engine follows).
func (c *SubprocessScanner) Scan(ctx context.Context, source catalog.Source, workspaceID int64, sink ProgressSink) (Result, error) {
	start := time.Now()
	scanEpochMs := start.UnixMilli()
	tracker := newProgressTracker(sink)

	cmd := exec.CommandContext(ctx, helperBinary, c.cfg.cliArgs(source.Path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("scanner: helper stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("scanner: spawn %s: %w", helperBinary, err)
	}

	res := Result{}
	var filesDiscovered, bytesScanned uint64
	reader := wire.NewScanLineReader(stdout)
	sawDone := false

	for {
		line, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("scanner: subprocess protocol: %w", err))
			res.PartiallyFailed = true
			break
		}

		switch line.Kind {
		case wire.ScanLineBatch:
			files := make([]catalog.ScannedFile, 0, len(line.Batch))
			for _, w := range line.Batch {
				filesDiscovered++
				bytesScanned += uint64(w.Size)
				files = append(files, catalog.ScannedFile{
					WorkspaceID: workspaceID,
					SourceID:    source.ID,
					FileUID:     w.FileUID,
					FullPath:    path.Join(filepath.ToSlash(source.Path), w.RelPath),
					RelPath:     w.RelPath,
					Size:        w.Size,
					MtimeMs:     w.MtimeMs,
					TagSource:   catalog.TagSourceNone,
				})
			}
			stats, err := c.store.BatchUpsert(ctx, source.ID, workspaceID, scanEpochMs, files)
			if err != nil {
				recordBatchFailure()
				res.PartiallyFailed = true
				res.Errors = append(res.Errors, fmt.Errorf("scanner: batch upsert: %w", err))
				continue
			}
			tracker.addPersisted(uint64(stats.New + stats.Changed + stats.Unchanged))
			recordFilesPersisted(stats.New + stats.Changed + stats.Unchanged)

		case wire.ScanLineError:
			res.Errors = append(res.Errors, fmt.Errorf("scanner: helper reported %s: %s", line.Error.Path, line.Error.Message))

		case wire.ScanLineProgress:
			if line.Progress != nil {
				tracker.setCurrentDir(line.Progress.CurrentDir)
			}

		case wire.ScanLineDone:
			sawDone = true
			res.Stats = *line.Done
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		return res, fmt.Errorf("scanner: helper exited with error: %w", waitErr)
	}
	if !sawDone {
		// A run without a terminal frame cannot be trusted to reflect
		// the true file count; the caller retries the whole scan.
		return res, fmt.Errorf("scanner: helper stream ended without a Done frame")
	}

	recordFilesDiscovered(int(filesDiscovered))
	recordScanDuration(time.Since(start).Seconds())

	if res.PartiallyFailed {
		c.log.Warn("scanner.subprocess.partial_failure", "source_id", source.ID, "errors", len(res.Errors))
		return res, nil
	}

	if _, err := c.store.DetectDeletes(ctx, source.ID, scanEpochMs); err != nil {
		return res, fmt.Errorf("scanner: detect deletes: %w", err)
	}
	if err := c.store.RepopulateFolderCache(ctx, source.ID); err != nil {
		return res, fmt.Errorf("scanner: repopulate folder cache: %w", err)
	}

	c.log.Info("scanner.subprocess.complete", "source_id", source.ID, "files_discovered", filesDiscovered)
	return res, nil
}
