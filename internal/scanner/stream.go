// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/wire"
)

// Stream walks root with cfg and writes the subprocess scan protocol
// (Batch/Error/Progress/Done lines) to w. It is the producing half of
// the casparian-scout-scan helper binary; the parent process reads the
// lines back through SubprocessScanner and persists them. Path-level
// failures become Error lines and do not stop the walk; exactly one
// Done line terminates the stream.
func Stream(ctx context.Context, root string, sourceType catalog.SourceType, cfg Config, w *wire.ScanLineWriter) error {
	if err := statRoot(root); err != nil {
		return err
	}

	start := time.Now()
	var stats wire.ScanStatsWire
	var lastProgress time.Time

	batch := make([]wire.ScannedFileWire, 0, cfg.batchSize())
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Batch(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			stats.Errors++
			return w.Error(path, err.Error())
		}

		if d.IsDir() {
			if path != root {
				dirRel, relErr := filepath.Rel(root, path)
				if relErr != nil {
					stats.Errors++
					return w.Error(path, relErr.Error())
				}
				dirRel = filepath.ToSlash(dirRel)
				if cfg.isHidden(d.Name()) || cfg.skipDirName(d.Name()) || cfg.skipPath(path) || cfg.exceedsDepth(dirRel) {
					return filepath.SkipDir
				}
			}
			stats.DirsScanned++
			if time.Since(lastProgress) >= time.Second {
				lastProgress = time.Now()
				if err := w.Progress(wire.ScanProgressWire{
					DirsScanned: stats.DirsScanned,
					FilesFound:  stats.FilesDiscovered,
					CurrentDir:  filepath.ToSlash(path),
					ElapsedMs:   time.Since(start).Milliseconds(),
				}); err != nil {
					return err
				}
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !cfg.FollowSymlinks {
			return nil
		}
		if cfg.isHidden(d.Name()) || cfg.skipPath(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			stats.Errors++
			return w.Error(path, err.Error())
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			stats.Errors++
			return w.Error(path, err.Error())
		}
		rel = filepath.ToSlash(rel)

		if cfg.exceedsDepth(rel) || !cfg.matchesSizeAndExt(rel, info.Size()) {
			return nil
		}

		stats.FilesDiscovered++
		stats.BytesScanned += uint64(info.Size())
		batch = append(batch, wire.ScannedFileWire{
			RelPath: rel,
			FileUID: ComputeFileUID(sourceType, filepath.ToSlash(path)),
			Size:    info.Size(),
			MtimeMs: info.ModTime().UnixMilli(),
		})
		if len(batch) >= cfg.batchSize() {
			return flush()
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	if err := flush(); err != nil {
		return err
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	return w.Done(stats)
}
