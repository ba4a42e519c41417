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

	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/pipeline"
	"github.com/casparianhq/flow/internal/queue"
	"github.com/casparianhq/flow/internal/ui"
)

func runPipeline(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: casparian pipeline apply|run|backfill ...")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "apply":
		runPipelineApply(rest)
	case "run":
		runPipelineRun(rest)
	case "backfill":
		runPipelineBackfill(rest)
	default:
		fmt.Fprintf(os.Stderr, "casparian pipeline: unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

func runPipelineApply(args []string) {
	fs := flag.NewFlagSet("pipeline apply", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit JSON instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian pipeline apply <file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		errors.FatalError(errors.NewNotFoundError("Cannot read pipeline file", err.Error(), "Check the path and try again"), *jsonOut)
	}
	spec, err := pipeline.ParseSpec(data)
	if err != nil {
		errors.FatalError(errors.NewConfigError("Cannot parse pipeline spec", err.Error(), "Check the YAML syntax against the pipeline schema", err), *jsonOut)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()
	runner := pipeline.NewRunner(store, queue.New(store), defaultWorkspaceID, logger)

	applied, err := runner.Apply(ctx, spec)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot apply pipeline", err.Error(), "", err), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(applied); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Applied pipeline %q version %d (parser=%s)", applied.Name, applied.Version, applied.Parser)
}

func runPipelineRun(args []string) {
	fs := flag.NewFlagSet("pipeline run", flag.ExitOnError)
	logicalDateStr := fs.String("logical-date", "", "Logical date (YYYY-MM-DD); defaults to today (UTC)")
	dryRun := fs.Bool("dry-run", false, "Resolve and report counts without persisting a run")
	jsonOut := fs.Bool("json", false, "Emit JSON instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian pipeline run <name> [--logical-date D] [--dry-run]")
		os.Exit(1)
	}
	name := fs.Arg(0)

	logicalDate, err := parseLogicalDate(*logicalDateStr)
	if err != nil {
		errors.FatalError(errors.NewInputError("Invalid --logical-date", err.Error(), "Use YYYY-MM-DD form"), *jsonOut)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()
	runner := pipeline.NewRunner(store, queue.New(store), defaultWorkspaceID, logger)

	result, err := runner.Run(ctx, name, logicalDate, *dryRun)
	if err != nil {
		errors.FatalError(errors.NewInternalError("Pipeline run failed", err.Error(), "", err), *jsonOut)
	}
	printRunResult(result, *jsonOut)
}

func runPipelineBackfill(args []string) {
	fs := flag.NewFlagSet("pipeline backfill", flag.ExitOnError)
	start := fs.String("start", "", "Start logical date (YYYY-MM-DD), inclusive")
	end := fs.String("end", "", "End logical date (YYYY-MM-DD), inclusive")
	dryRun := fs.Bool("dry-run", false, "Resolve and report counts without persisting any run")
	jsonOut := fs.Bool("json", false, "Emit JSON instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 || *start == "" || *end == "" {
		fmt.Fprintln(os.Stderr, "Usage: casparian pipeline backfill <name> --start D --end D [--dry-run]")
		os.Exit(1)
	}
	name := fs.Arg(0)

	startDate, err := parseLogicalDate(*start)
	if err != nil {
		errors.FatalError(errors.NewInputError("Invalid --start", err.Error(), "Use YYYY-MM-DD form"), *jsonOut)
	}
	endDate, err := parseLogicalDate(*end)
	if err != nil {
		errors.FatalError(errors.NewInputError("Invalid --end", err.Error(), "Use YYYY-MM-DD form"), *jsonOut)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()
	runner := pipeline.NewRunner(store, queue.New(store), defaultWorkspaceID, logger)

	results, err := runner.Backfill(ctx, name, startDate, endDate, *dryRun)
	if err != nil {
		errors.FatalError(errors.NewInternalError("Pipeline backfill failed", err.Error(), "", err), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(results); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	for _, r := range results {
		printRunResult(r, false)
	}
}

func parseLogicalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(pipeline.LogicalDateLayout, s)
}

func printRunResult(r *pipeline.RunResult, jsonOut bool) {
	if jsonOut {
		if err := output.JSON(r); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	if r.NoOp {
		ui.Infof("%s already ran for %s (run #%d); no-op", "pipeline", r.LogicalDate, r.RunID)
		return
	}
	if r.DryRun {
		ui.Infof("Would enqueue %d file(s) for %s (snapshot %s)", r.FileCount, r.LogicalDate, r.SnapshotHash)
		return
	}
	ui.Successf("Run #%d for %s: %d file(s) enqueued (snapshot %s)", r.RunID, r.LogicalDate, r.FileCount, r.SnapshotHash)
}
