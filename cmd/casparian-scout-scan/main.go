// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// casparian-scout-scan is the scanner subprocess helper: it walks one
// directory tree and writes newline-delimited JSON scan frames
// (Batch/Error/Progress/Done) to stdout. The casparian parent process
// spawns it, reads the stream, and persists every Batch into the
// catalog; the helper itself never touches the database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/scanner"
	"github.com/casparianhq/flow/internal/wire"
)

func main() {
	flags := flag.NewFlagSet("casparian-scout-scan", flag.ExitOnError)
	threads := flags.Int("threads", 4, "Walker threads (accepted for flag parity; the stream engine is sequential)")
	batchSize := flags.Int("batch-size", 500, "Files per Batch frame")
	includeHidden := flags.Bool("include-hidden", false, "Include dotfiles and dot-directories")
	followSymlinks := flags.Bool("follow-symlinks", false, "Follow symbolic links")
	excludeDirs := flags.StringArray("exclude-dir", nil, "Directory basename to skip (repeatable)")
	excludePaths := flags.StringArray("exclude-path", nil, "Glob or substring path pattern to skip (repeatable)")
	computeStats := flags.Bool("compute-stats", false, "Compute extended per-file stats")
	depth := flags.Int("depth", 0, "Maximum recursion depth; 0 means unlimited")
	minSize := flags.Int64("min-size", 0, "Minimum file size in bytes")
	maxSize := flags.Int64("max-size", 0, "Maximum file size in bytes; 0 means unlimited")
	types := flags.StringArray("types", nil, "File extension to include, without the dot (repeatable)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `casparian-scout-scan - scanner subprocess helper

Usage:
  casparian-scout-scan <path> [options]

Writes newline-delimited JSON scan frames to stdout. Intended to be
spawned by the casparian scanner, not invoked by hand.
`)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}
	root := flags.Arg(0)

	cfg := scanner.Config{
		Threads:             *threads,
		BatchSize:           *batchSize,
		IncludeHidden:       *includeHidden,
		FollowSymlinks:      *followSymlinks,
		ExcludeDirNames:     *excludeDirs,
		ExcludePathPatterns: *excludePaths,
		ComputeStats:        *computeStats,
		MaxDepth:            *depth,
		MinSize:             *minSize,
		MaxSize:             *maxSize,
		IncludeExts:         *types,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scanner.Stream(ctx, root, catalog.SourceTypeLocal, cfg, wire.NewScanLineWriter(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "casparian-scout-scan: %v\n", err)
		os.Exit(1)
	}
}
