// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/scanner"
	"github.com/casparianhq/flow/internal/tagger"
	"github.com/casparianhq/flow/internal/ui"
)

// scanResultJSON is the --json rendering of a completed scan.
type scanResultJSON struct {
	SourcePath      string `json:"source_path"`
	DirsScanned     uint64 `json:"dirs_scanned"`
	FilesDiscovered uint64 `json:"files_discovered"`
	BytesScanned    uint64 `json:"bytes_scanned"`
	Errors          uint64 `json:"errors"`
	DurationMs      int64  `json:"duration_ms"`
	PartiallyFailed bool   `json:"partially_failed"`
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	types := fs.StringSlice("types", nil, "Restrict to these file extensions (repeatable)")
	recursive := fs.Bool("recursive", true, "Recurse into subdirectories")
	depth := fs.Int("depth", 0, "Maximum recursion depth (0 = unlimited, ignored when --recursive=false)")
	minSize := fs.Int64("min-size", 0, "Skip files smaller than this many bytes")
	maxSize := fs.Int64("max-size", 0, "Skip files larger than this many bytes (0 = unlimited)")
	jsonOut := fs.Bool("json", false, "Emit a JSON summary instead of human-readable progress")
	stats := fs.Bool("stats", false, "Compute per-file stats (size/mtime) during the walk")
	quiet := fs.Bool("quiet", false, "Suppress progress output")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: casparian scan <path> [options]

Walks <path>, upserting every file it finds into the casparian catalog
and running delete detection for files no longer present.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg := scanner.DefaultConfig()
	cfg.ComputeStats = *stats
	cfg.IncludeExts = *types
	cfg.MinSize = *minSize
	cfg.MaxSize = *maxSize
	if !*recursive {
		cfg.MaxDepth = 1
	} else {
		cfg.MaxDepth = *depth
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()

	src, err := store.GetSourceByName(ctx, defaultWorkspaceID, path)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot resolve source", err.Error(), "", err), *jsonOut)
	}
	if src == nil {
		id, err := store.UpsertSource(ctx, catalog.Source{
			WorkspaceID: defaultWorkspaceID, Name: path, SourceType: catalog.SourceTypeLocal,
			Path: path, Enabled: true,
		})
		if err != nil {
			errors.FatalError(errors.NewDatabaseError("Cannot register source", err.Error(), "", err), *jsonOut)
		}
		src = &catalog.Source{WorkspaceID: defaultWorkspaceID, ID: id, Name: path, SourceType: catalog.SourceTypeLocal, Path: path, Enabled: true}
	}

	rules, err := store.ListTaggingRules(ctx, src.ID)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot load tagging rules", err.Error(), "", err), *jsonOut)
	}
	var tg *tagger.Tagger
	if len(rules) > 0 {
		tg, err = tagger.New(rules, false)
		if err != nil {
			errors.FatalError(errors.NewConfigError("Invalid tagging rule", err.Error(), "Fix the glob pattern and re-apply sources.yaml", err), *jsonOut)
		}
	}

	var sink scanner.ProgressSink
	if !*quiet && !*jsonOut {
		sink = func(p scanner.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s scanned, %d found, %d persisted (%.0f files/sec)  ",
				ui.Dim.Sprint(p.CurrentDir), p.FilesFound, p.FilesPersisted, p.FilesPerSec)
		}
	}

	s := scanner.New(store, cfg, logger)
	res, err := s.Scan(ctx, *src, defaultWorkspaceID, tg, sink)
	if !*quiet && !*jsonOut {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		errors.FatalError(errors.NewInternalError("Scan failed", err.Error(), "", err), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(scanResultJSON{
			SourcePath:      path,
			DirsScanned:     res.Stats.DirsScanned,
			FilesDiscovered: res.Stats.FilesDiscovered,
			BytesScanned:    res.Stats.BytesScanned,
			Errors:          res.Stats.Errors,
			DurationMs:      res.Stats.DurationMs,
			PartiallyFailed: res.PartiallyFailed,
		}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	ui.Successf("Scanned %s: %d files, %d dirs, %s in %s",
		path, res.Stats.FilesDiscovered, res.Stats.DirsScanned,
		humanBytes(res.Stats.BytesScanned), time.Duration(res.Stats.DurationMs)*time.Millisecond)
	if res.PartiallyFailed {
		ui.Warningf("%d errors occurred; delete detection and folder cache were skipped", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, " -", e)
		}
	}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
