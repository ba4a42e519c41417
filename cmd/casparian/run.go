// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/ui"
	"github.com/casparianhq/flow/internal/wire"
	"github.com/casparianhq/flow/internal/worker"
)

// runResultJSON is the --json rendering of an ad hoc `run`.
type runResultJSON struct {
	Plugin  string `json:"plugin"`
	Input   string `json:"input"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	sinkURI := fs.String("sink", "", "Override the URI every output topic writes to")
	force := fs.Bool("force", false, "Re-run even if a signature is unverified")
	whatIf := fs.Bool("whatif", false, "Resolve the plugin and print the dispatch plan without executing")
	jsonOut := fs.Bool("json", false, "Emit a JSON summary instead of human-readable output")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: casparian run <parser> <input> [options]

Runs a single parser against one input file ad hoc, bypassing the
Sentinel dispatch loop and the job queue entirely: a direct call into
the worker runtime (see worker.Runner.RunOnce).

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	pluginName, input := fs.Arg(0), fs.Arg(1)

	logger := newLogger()
	ctx := context.Background()
	store, home := openStore(ctx, logger)
	defer store.Close()

	manifest, err := store.LatestActivePlugin(ctx, pluginName)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot resolve plugin", err.Error(), "", err), *jsonOut)
	}
	if manifest == nil {
		errors.FatalError(errors.NewNotFoundError(
			fmt.Sprintf("No active plugin manifest named %q", pluginName),
			"plugin manifests are deployed out of band of this CLI",
			"Deploy the plugin first, or check the name with `casparian jobs --topic "+pluginName+"`",
		), *jsonOut)
	}
	if !manifest.SignatureVerified && !*force {
		errors.FatalError(errors.NewPermissionError(
			"Plugin signature is not verified",
			fmt.Sprintf("%s@%s has signature_verified=false", manifest.PluginName, manifest.Version),
			"Pass --force to run an unverified plugin anyway",
			nil,
		), *jsonOut)
	}

	var outputs map[string]wire.OutputSpec
	if manifest.OutputsJSON != "" {
		if err := json.Unmarshal([]byte(manifest.OutputsJSON), &outputs); err != nil {
			errors.FatalError(errors.NewConfigError("Cannot parse plugin outputs_json", err.Error(), "Re-deploy the plugin with a valid outputs manifest", err), *jsonOut)
		}
	}

	sinks := make([]wire.SinkSpec, 0, len(outputs))
	for name, spec := range outputs {
		topic, err := store.GetTopicConfig(ctx, pluginName, spec.Topic)
		if err != nil {
			errors.FatalError(errors.NewDatabaseError("Cannot resolve topic config", err.Error(), "", err), *jsonOut)
		}
		if topic == nil {
			// No declared topic config: fall back to a Parquet sink under
			// the output name itself so an ad hoc run never hard-fails
			// solely for missing bookkeeping.
			topic = defaultTopicFor(pluginName, name)
		}
		uri := topic.URI
		if *sinkURI != "" {
			uri = *sinkURI
		}
		sinks = append(sinks, wire.SinkSpec{
			TopicName: topic.TopicName,
			URI:       uri,
			Mode:      string(topic.Mode),
			SinkType:  string(topic.SinkType),
		})
	}

	payload := wire.DispatchPayload{
		PluginName:        manifest.PluginName,
		ParserVersion:     manifest.Version,
		FilePath:          input,
		Sinks:             sinks,
		RuntimeKind:       string(manifest.RuntimeKind),
		Entrypoint:        manifest.Entrypoint,
		SignatureVerified: manifest.SignatureVerified,
		EnvHash:           manifest.EnvHash.String,
		SourceCode:        manifest.SourceCode.String,
		ArtifactHash:      manifest.ArtifactHash,
		Outputs:           outputs,
	}

	if *whatIf {
		printWhatIf(payload, *jsonOut)
		return
	}

	runner := worker.New(worker.Config{
		WorkerID:       "casparian-run-adhoc",
		EnvManager:     adhocEnvManager(home.VenvDir, logger),
		PythonShimPath: os.Getenv("CASPARIAN_PYTHON_SHIM"),
		ParquetOutDir:  home.Root,
		ControlPlaneDB: home.DBPath,
	}, logger)

	result := runner.RunOnce(ctx, 0, payload)

	if *jsonOut {
		if err := output.JSON(runResultJSON{
			Plugin: pluginName, Input: input, Status: string(result.Status),
			Summary: result.Summary, Error: result.Error,
		}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	if result.Status == wire.ConcludeSuccess {
		ui.Successf("%s: %s", pluginName, result.Summary)
		return
	}
	ui.Errorf("%s failed: %s", pluginName, result.Error)
	os.Exit(errors.ExitInternal)
}

func printWhatIf(payload wire.DispatchPayload, jsonOut bool) {
	if jsonOut {
		if err := output.JSON(payload); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Header("Dispatch plan (--whatif, nothing executed)")
	fmt.Printf("  plugin:       %s@%s\n", payload.PluginName, payload.ParserVersion)
	fmt.Printf("  runtime_kind: %s\n", payload.RuntimeKind)
	fmt.Printf("  entrypoint:   %s\n", payload.Entrypoint)
	fmt.Printf("  input:        %s\n", payload.FilePath)
	for _, s := range payload.Sinks {
		fmt.Printf("  sink:         %s -> %s (%s/%s)\n", s.TopicName, s.URI, s.SinkType, s.Mode)
	}
}
