// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/casparianhq/flow/internal/bootstrap"
	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/env"
	"github.com/casparianhq/flow/internal/errors"
)

// newLogger returns the process-wide structured logger, text-formatted
// for a human terminal. Every subcommand constructs its own via this
// helper rather than reaching for a package-global.
func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// openStore resolves CASPARIAN_HOME, opens the catalog at its
// resolved backend, and ensures every table exists. Callers must
// Close() the returned Store.
func openStore(ctx context.Context, logger *slog.Logger) (*catalog.Store, *bootstrap.Home) {
	home, err := bootstrap.Resolve()
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot resolve casparian home directory",
			err.Error(),
			"Check that CASPARIAN_HOME points at a writable directory",
			err,
		), false)
	}

	store, err := catalog.Open(ctx, home.DBPath, catalog.Backend(home.Backend), logger)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open the casparian catalog",
			err.Error(),
			"Close other casparian instances or check CASPARIAN_DB_BACKEND",
			err,
		), false)
	}

	if err := store.EnsureAllSchema(ctx); err != nil {
		store.Close()
		errors.FatalError(errors.NewDatabaseError(
			"Cannot initialize the casparian catalog schema",
			err.Error(),
			"",
			err,
		), false)
	}

	return store, home
}

// defaultWorkspaceID is the single workspace this build operates
// against; there is no multi-tenant workspace selection yet.
const defaultWorkspaceID int64 = 1

// defaultTopicFor synthesizes a Parquet sink for an output that has no
// explicit TopicConfig row yet, so an ad hoc `run` never hard-fails
// solely for missing sink bookkeeping.
func defaultTopicFor(pluginName, outputName string) *catalog.TopicConfig {
	return &catalog.TopicConfig{
		PluginName: pluginName,
		TopicName:  outputName,
		URI:        outputName,
		Mode:       catalog.WriteModeAppend,
		SinkType:   catalog.SinkTypeParquet,
		Enabled:    true,
	}
}

// adhocEnvManager returns an env.Manager rooted at venvDir for
// commands (like ad hoc `run`) that execute a PythonShim plugin
// outside the Sentinel/Worker process pair.
func adhocEnvManager(venvDir string, logger *slog.Logger) *env.Manager {
	return env.NewManager(venvDir, logger)
}
