// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/tagger"
	"github.com/casparianhq/flow/internal/wire"
)

// Scanner runs the in-process walker engine against one source at a
// time, persisting batches through store as it goes.
type Scanner struct {
	store *catalog.Store
	cfg   Config
	log   *slog.Logger
}

// New returns a Scanner backed by store. logger defaults to
// slog.Default when nil.
func New(store *catalog.Store, cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{store: store, cfg: cfg, log: logger}
}

// candidate is one file discovered by the walk goroutine, queued for
// worker pickup.
type candidate struct {
	fullPath string
	relPath  string
	info     fs.FileInfo
}

// Result reports what a Scan call observed, independent of whether it
// ultimately succeeded or partially failed.
type Result struct {
	Stats           wire.ScanStatsWire
	PartiallyFailed bool
	Errors          []error
}

// Scan walks source.Path, batches discoveries through store, classifies
// with tg if non-nil, reports Progress to sink at most once a second,
// and on full success runs delete detection and folder-cache seeding.
// A batch upsert failure marks the result PartiallyFailed and skips
// both of those finishing steps, per the scanner's failure policy.
func (s *Scanner) Scan(ctx context.Context, source catalog.Source, workspaceID int64, tg *tagger.Tagger, sink ProgressSink) (Result, error) {
	if err := statRoot(source.Path); err != nil {
		return Result{}, err
	}

	start := time.Now()
	scanEpochMs := start.UnixMilli()
	tracker := newProgressTracker(sink)

	paths := make(chan candidate, s.cfg.batchSize())
	batches := make(chan []catalog.ScannedFile, s.cfg.threads())

	var walkErr error
	walkDone := make(chan struct{})
	go func() {
		defer close(walkDone)
		defer close(paths)
		walkErr = s.walk(ctx, source.Path, tracker, paths)
	}()

	var workersWG sync.WaitGroup
	for i := 0; i < s.cfg.threads(); i++ {
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			s.buildBatches(source, workspaceID, tg, paths, batches)
		}()
	}
	go func() {
		workersWG.Wait()
		close(batches)
	}()

	res := Result{}
	rootFileNames := make([]string, 0)
	rootFolderCounts := make(map[string]uint64)
	var filesDiscovered, bytesScanned uint64

	for batch := range batches {
		for _, f := range batch {
			filesDiscovered++
			bytesScanned += uint64(f.Size)
			top := topLevelSegment(f.RelPath)
			if top == "" {
				rootFileNames = append(rootFileNames, f.RelPath)
			} else {
				rootFolderCounts[top]++
			}
		}

		stats, err := s.store.BatchUpsert(ctx, source.ID, workspaceID, scanEpochMs, batch)
		if err != nil {
			recordBatchFailure()
			res.PartiallyFailed = true
			res.Errors = append(res.Errors, fmt.Errorf("scanner: batch upsert: %w", err))
			continue
		}
		recordFilesPersisted(stats.New + stats.Changed + stats.Unchanged)
		tracker.addPersisted(uint64(stats.New + stats.Changed + stats.Unchanged))
	}

	<-walkDone
	if walkErr != nil {
		res.Errors = append(res.Errors, walkErr)
		res.PartiallyFailed = true
	}

	recordFilesDiscovered(int(filesDiscovered))
	recordScanDuration(time.Since(start).Seconds())

	res.Stats = wire.ScanStatsWire{
		DirsScanned:     tracker.dirsScanned.Load(),
		FilesDiscovered: filesDiscovered,
		BytesScanned:    bytesScanned,
		Errors:          uint64(len(res.Errors)),
		DurationMs:      time.Since(start).Milliseconds(),
	}

	if res.PartiallyFailed {
		s.log.Warn("scanner.scan.partial_failure", "source_id", source.ID, "errors", len(res.Errors))
		return res, nil
	}

	if _, err := s.store.DetectDeletes(ctx, source.ID, scanEpochMs); err != nil {
		return res, fmt.Errorf("scanner: detect deletes: %w", err)
	}
	seed := rootFolderCounts
	if len(rootFileNames) > 0 {
		seed[""] = uint64(len(rootFileNames))
	}
	if err := s.store.SeedFolderCache(ctx, source.ID, seed); err != nil {
		return res, fmt.Errorf("scanner: seed folder cache: %w", err)
	}

	s.log.Info("scanner.scan.complete", "source_id", source.ID,
		"files_discovered", filesDiscovered, "duration_ms", res.Stats.DurationMs)
	return res, nil
}

// walk drives filepath.WalkDir sequentially (directory traversal is
// inherently ordered), applying the exclusion config and pushing every
// eligible file onto out. It never blocks indefinitely: out is drained
// concurrently by the worker pool.
func (s *Scanner) walk(ctx context.Context, root string, tracker *progressTracker, out chan<- candidate) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("scanner: walk %s: %w", path, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if path != root {
				dirRel, relErr := filepath.Rel(root, path)
				if relErr != nil {
					return fmt.Errorf("scanner: relpath %s: %w", path, relErr)
				}
				dirRel = filepath.ToSlash(dirRel)
				if s.cfg.isHidden(d.Name()) || s.cfg.skipDirName(d.Name()) || s.cfg.skipPath(path) || s.cfg.exceedsDepth(dirRel) {
					return filepath.SkipDir
				}
			}
			tracker.addDirs(1)
			tracker.setCurrentDir(path)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !s.cfg.FollowSymlinks {
			return nil
		}
		if s.cfg.isHidden(d.Name()) || s.cfg.skipPath(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("scanner: stat %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("scanner: relpath %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		if s.cfg.exceedsDepth(rel) || !s.cfg.matchesSizeAndExt(rel, info.Size()) {
			return nil
		}

		tracker.addFound(1)
		out <- candidate{fullPath: path, relPath: rel, info: info}
		return nil
	})
}

// buildBatches is one worker: it accumulates thread-local batches of
// batchSize from paths and flushes each to out, including a final
// partial flush on channel close (the drop-guard).
func (s *Scanner) buildBatches(source catalog.Source, workspaceID int64, tg *tagger.Tagger, paths <-chan candidate, out chan<- []catalog.ScannedFile) {
	batch := make([]catalog.ScannedFile, 0, s.cfg.batchSize())
	flush := func() {
		if len(batch) == 0 {
			return
		}
		out <- batch
		batch = make([]catalog.ScannedFile, 0, s.cfg.batchSize())
	}
	defer flush()

	for c := range paths {
		f := catalog.ScannedFile{
			WorkspaceID: workspaceID,
			SourceID:    source.ID,
			FileUID:     ComputeFileUID(source.SourceType, c.fullPath),
			FullPath:    filepath.ToSlash(c.fullPath),
			RelPath:     c.relPath,
			Size:        c.info.Size(),
			MtimeMs:     c.info.ModTime().UnixMilli(),
			TagSource:   catalog.TagSourceNone,
		}
		if tg != nil {
			if m := tg.Classify(source.ID, c.relPath); m.Found {
				f.Tag.String, f.Tag.Valid = m.Tag, true
				f.TagSource = catalog.TagSourceRule
				f.RuleID.Int64, f.RuleID.Valid = m.RuleID, true
			}
		}

		batch = append(batch, f)
		if len(batch) >= s.cfg.batchSize() {
			flush()
		}
	}
}

func topLevelSegment(relPath string) string {
	idx := strings.IndexByte(relPath, '/')
	if idx < 0 {
		return ""
	}
	return relPath[:idx]
}

// statRoot confirms the source path exists and is a directory before a
// scan begins, so a missing path fails fast with a clear error instead
// of an empty, silently "successful" scan.
func statRoot(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("scanner: source path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scanner: source path %s is not a directory", path)
	}
	return nil
}
