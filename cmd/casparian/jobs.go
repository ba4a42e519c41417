// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/queue"
	"github.com/casparianhq/flow/internal/ui"
)

func runJobs(args []string) {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	topic := fs.String("topic", "", "Restrict to jobs dispatched for this plugin name")
	statuses := fs.StringSlice("status", nil, "Restrict to these statuses (repeatable)")
	limit := fs.Int("limit", 50, "Maximum rows to print (0 = unlimited)")
	jsonOut := fs.Bool("json", false, "Emit a JSON array instead of a table")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: casparian jobs [options]

Lists jobs in the processing queue, newest first.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()
	q := queue.New(store)

	filter := catalog.JobFilter{PluginName: *topic, Limit: *limit}
	for _, s := range *statuses {
		filter.Statuses = append(filter.Statuses, catalog.JobStatus(s))
	}

	jobs, err := q.List(ctx, filter)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot list jobs", err.Error(), "", err), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(jobs); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	if len(jobs) == 0 {
		ui.Info("No jobs match that filter.")
		return
	}
	for _, j := range jobs {
		fmt.Printf("%s  %-10s  %-20s  retries=%d\n", ui.Label(fmt.Sprintf("#%d", j.ID)), j.Status, j.PluginName, j.RetryCount)
	}
}
