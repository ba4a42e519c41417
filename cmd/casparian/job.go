// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/queue"
	"github.com/casparianhq/flow/internal/ui"
)

func runJob(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: casparian job show|retry|retry-all|cancel <id> [--json]")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("job "+sub, flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit JSON instead of human-readable output")
	if err := fs.Parse(rest); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: casparian job %s <id>\n", sub)
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		errors.FatalError(errors.NewInputError("Invalid job id", err.Error(), "Pass a numeric job id"), *jsonOut)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()
	q := queue.New(store)

	switch sub {
	case "show":
		jobShow(ctx, q, id, *jsonOut)
	case "retry":
		jobRetry(ctx, q, id, *jsonOut)
	case "retry-all":
		jobRetryAll(ctx, store, q, *jsonOut)
	case "cancel":
		jobCancel(ctx, q, id, *jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "casparian job: unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

func jobShow(ctx context.Context, q *queue.Queue, id int64, jsonOut bool) {
	job, err := q.Get(ctx, id)
	if err != nil {
		errors.FatalError(errors.NewNotFoundError("Job not found", err.Error(), "Run `casparian jobs` to list known job ids"), jsonOut)
	}
	if jsonOut {
		if err := output.JSON(job); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	fmt.Printf("%s %d\n", ui.Label("Job"), job.ID)
	fmt.Printf("  plugin:      %s\n", job.PluginName)
	fmt.Printf("  status:      %s\n", job.Status)
	fmt.Printf("  retry_count: %d\n", job.RetryCount)
	if job.ErrorMessage.Valid {
		fmt.Printf("  error:       %s\n", job.ErrorMessage.String)
	}
	if job.ResultSummary.Valid {
		fmt.Printf("  summary:     %s\n", job.ResultSummary.String)
	}
}

func jobRetry(ctx context.Context, q *queue.Queue, id int64, jsonOut bool) {
	result, err := q.Requeue(ctx, id)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot retry job", err.Error(), "", err), jsonOut)
	}
	if jsonOut {
		if err := output.JSON(map[string]any{"job_id": id, "result": result}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	switch result {
	case catalog.RequeuedToQueue:
		ui.Successf("Job %d requeued", id)
	case catalog.RequeuedDeadLetter:
		ui.Warningf("Job %d exhausted retries and moved to dead-letter", id)
	}
}

func jobRetryAll(ctx context.Context, store *catalog.Store, q *queue.Queue, jsonOut bool) {
	failed, err := store.ListJobs(ctx, catalog.JobFilter{Statuses: []catalog.JobStatus{catalog.JobFailed}})
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot list failed jobs", err.Error(), "", err), jsonOut)
	}

	type outcome struct {
		JobID  int64  `json:"job_id"`
		Result string `json:"result"`
	}
	var outcomes []outcome
	for _, j := range failed {
		result, err := q.Requeue(ctx, j.ID)
		if err != nil {
			errors.FatalError(errors.NewDatabaseError("Cannot retry job", err.Error(), "", err), jsonOut)
		}
		outcomes = append(outcomes, outcome{JobID: j.ID, Result: string(result)})
	}

	if jsonOut {
		if err := output.JSON(outcomes); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Retried %d failed job(s)", len(outcomes))
}

func jobCancel(ctx context.Context, q *queue.Queue, id int64, jsonOut bool) {
	if err := q.Cancel(ctx, id); err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot cancel job", err.Error(), "", err), jsonOut)
	}
	if jsonOut {
		if err := output.JSON(map[string]any{"job_id": id, "cancelled_at": time.Now().UTC().Format(time.RFC3339)}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Job %d cancelled (no-op if it was already terminal)", id)
}
