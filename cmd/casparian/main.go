// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package main implements the casparian CLI: the operator-facing
// entrypoint for scanning sources, running parsers ad hoc, declaring
// and running pipelines, inspecting the job queue, and generating
// performance fixtures.
//
// Usage:
//
//	casparian scan <path> [--recursive] [--json]
//	casparian run <parser> <input> [--sink URI] [--json]
//	casparian pipeline apply|run|backfill ...
//	casparian jobs [--status S...] [--json]
//	casparian job show|retry|retry-all|cancel <id>
//	casparian perf gen-fixture|scan ...
//	casparian tape explain|validate <file>
//	casparian source apply|list
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("casparian version %s (%s)\n", version, commit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "scan":
		runScan(rest)
	case "run":
		runRun(rest)
	case "pipeline":
		runPipeline(rest)
	case "jobs":
		runJobs(rest)
	case "job":
		runJob(rest)
	case "perf":
		runPerf(rest)
	case "tape":
		runTape(rest)
	case "source":
		runSource(rest)
	default:
		fmt.Fprintf(os.Stderr, "casparian: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `casparian - local data-ingestion CLI

Usage:
  casparian <command> [options]

Commands:
  scan       Walk a filesystem path and populate the catalog
  run        Run a single parser against one input ad hoc
  pipeline   apply | run | backfill declarative pipeline definitions
  jobs       List jobs in the processing queue
  job        show | retry | retry-all | cancel a single job
  perf       gen-fixture | scan performance-testing helpers
  tape       explain | validate a recorded .tape file
  source     apply | list declared Sources and TaggingRules

Global Options:
  --version   Show version and exit

Environment:
  CASPARIAN_HOME         Config/DB/venv root (default ~/.casparian_flow)
  CASPARIAN_DB_BACKEND   sqlite (default) or duckdb
`)
}
