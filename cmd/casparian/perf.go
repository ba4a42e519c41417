// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/bootstrap"
	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/scanner"
	"github.com/casparianhq/flow/internal/ui"
)

func runPerf(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: casparian perf gen-fixture|scan ...")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "gen-fixture":
		runPerfGenFixture(rest)
	case "scan":
		runPerfScan(rest)
	default:
		fmt.Fprintf(os.Stderr, "casparian perf: unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

func runPerfGenFixture(args []string) {
	fs := flag.NewFlagSet("perf gen-fixture", flag.ExitOnError)
	path := fs.String("path", "", "Root directory to populate (created if absent)")
	files := fs.Int("files", 1000, "Total number of files to generate")
	depth := fs.Int("depth", 3, "Number of nested directory levels to spread files across")
	sizeBytes := fs.Int64("size-bytes", 1024, "Size in bytes of each generated file")
	jsonOut := fs.Bool("json", false, "Emit a JSON summary instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *path == "" {
		errors.FatalError(errors.NewInputError("Missing --path", "perf gen-fixture requires a target directory", "Pass --path <dir>"), *jsonOut)
	}

	start := time.Now()
	written, bytesWritten, err := genFixture(*path, *files, *depth, *sizeBytes)
	if err != nil {
		errors.FatalError(errors.NewInternalError("Fixture generation failed", err.Error(), "", err), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(map[string]any{
			"path": *path, "files_written": written, "bytes_written": bytesWritten,
			"duration_ms": time.Since(start).Milliseconds(),
		}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Generated %d files (%s) under %s in %s", written, humanBytes(uint64(bytesWritten)), *path, time.Since(start))
}

// genFixture spreads n files evenly across depth nested directory
// levels rooted at root, each file sizeBytes long and filled with
// pseudo-random content so the scanner has real bytes to hash.
func genFixture(root string, n, depth int, sizeBytes int64) (int, int64, error) {
	if depth < 1 {
		depth = 1
	}
	rng := rand.New(rand.NewSource(1))
	payload := make([]byte, sizeBytes)
	var written int
	var total int64

	for i := 0; i < n; i++ {
		dir := root
		for d := 0; d < i%depth; d++ {
			dir = filepath.Join(dir, "d"+strconv.Itoa(d))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return written, total, fmt.Errorf("perf: mkdir %s: %w", dir, err)
		}
		name := filepath.Join(dir, fmt.Sprintf("file_%06d.dat", i))
		rng.Read(payload)
		if err := os.WriteFile(name, payload, 0o644); err != nil {
			return written, total, fmt.Errorf("perf: write %s: %w", name, err)
		}
		written++
		total += sizeBytes
	}
	return written, total, nil
}

func runPerfScan(args []string) {
	fs := flag.NewFlagSet("perf scan", flag.ExitOnError)
	path := fs.String("path", "", "Root directory to scan")
	dbPath := fs.String("db", "", "Catalog path override (default: resolved CASPARIAN_HOME catalog)")
	batchSize := fs.Int("batch-size", 500, "Scanner batch size")
	threads := fs.Int("threads", 4, "Scanner worker threads (in-process engine only)")
	engine := fs.String("engine", "in-process", "Scanner engine: in-process or subprocess")
	computeStats := fs.Bool("compute-stats", false, "Compute per-file stats during the walk")
	jsonOut := fs.Bool("json", false, "Emit a JSON summary instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *path == "" {
		errors.FatalError(errors.NewInputError("Missing --path", "perf scan requires a target directory", "Pass --path <dir>"), *jsonOut)
	}

	logger := newLogger()
	ctx := context.Background()

	home, err := bootstrap.Resolve()
	if err != nil {
		errors.FatalError(errors.NewConfigError("Cannot resolve casparian home directory", err.Error(), "", err), *jsonOut)
	}
	catalogPath := home.DBPath
	if *dbPath != "" {
		catalogPath = *dbPath
	}

	store, err := catalog.Open(ctx, catalogPath, catalog.Backend(home.Backend), logger)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot open catalog", err.Error(), "", err), *jsonOut)
	}
	defer store.Close()
	if err := store.EnsureAllSchema(ctx); err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot initialize catalog schema", err.Error(), "", err), *jsonOut)
	}

	srcID, err := store.UpsertSource(ctx, catalog.Source{
		WorkspaceID: defaultWorkspaceID, Name: "perf:" + *path, SourceType: catalog.SourceTypeLocal, Path: *path, Enabled: true,
	})
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot register perf source", err.Error(), "", err), *jsonOut)
	}
	src := catalog.Source{WorkspaceID: defaultWorkspaceID, ID: srcID, Name: "perf:" + *path, SourceType: catalog.SourceTypeLocal, Path: *path, Enabled: true}

	cfg := scanner.Config{Threads: *threads, BatchSize: *batchSize, ComputeStats: *computeStats}

	start := time.Now()
	var dirsScanned, filesDiscovered, bytesScanned, scanErrors uint64
	var partiallyFailed bool

	switch *engine {
	case "in-process":
		s := scanner.New(store, cfg, logger)
		res, err := s.Scan(ctx, src, defaultWorkspaceID, nil, nil)
		if err != nil {
			errors.FatalError(errors.NewInternalError("Scan failed", err.Error(), "", err), *jsonOut)
		}
		dirsScanned, filesDiscovered, bytesScanned, scanErrors = res.Stats.DirsScanned, res.Stats.FilesDiscovered, res.Stats.BytesScanned, res.Stats.Errors
		partiallyFailed = res.PartiallyFailed
	case "subprocess":
		s := scanner.NewSubprocess(store, cfg, logger)
		res, err := s.Scan(ctx, src, defaultWorkspaceID, nil)
		if err != nil {
			errors.FatalError(errors.NewInternalError("Scan failed", err.Error(), "", err), *jsonOut)
		}
		dirsScanned, filesDiscovered, bytesScanned, scanErrors = res.Stats.DirsScanned, res.Stats.FilesDiscovered, res.Stats.BytesScanned, res.Stats.Errors
		partiallyFailed = res.PartiallyFailed
	default:
		errors.FatalError(errors.NewInputError("Invalid --engine", fmt.Sprintf("got %q, want in-process or subprocess", *engine), "Pass --engine in-process or --engine subprocess"), *jsonOut)
	}
	elapsed := time.Since(start)

	result := map[string]any{
		"path": *path, "engine": *engine, "dirs_scanned": dirsScanned,
		"files_discovered": filesDiscovered, "bytes_scanned": bytesScanned,
		"errors": scanErrors, "partially_failed": partiallyFailed,
		"duration_ms": elapsed.Milliseconds(),
		"files_per_sec": float64(filesDiscovered) / elapsed.Seconds(),
	}
	if commit := os.Getenv("GIT_COMMIT"); commit != "" {
		result["git_commit"] = commit
	}

	if *jsonOut {
		if err := output.JSON(result); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Scanned %d files in %s (%s engine) in %s", filesDiscovered, *path, *engine, elapsed)
}
