// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/ui"
)

// sourcesFile is the `source apply <file>` YAML shape: a list of
// Sources, each with nested TaggingRule declarations. This is the
// authoring path for both entity kinds; everything else in the
// catalog only reads them.
type sourcesFile struct {
	Sources []sourceDecl `yaml:"sources"`
}

type sourceDecl struct {
	Name             string           `yaml:"name"`
	Path             string           `yaml:"path"`
	PollIntervalSecs int64            `yaml:"poll_interval_secs,omitempty"`
	Enabled          *bool            `yaml:"enabled,omitempty"`
	TaggingRules     []taggingRuleDecl `yaml:"tagging_rules,omitempty"`
}

type taggingRuleDecl struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Tag      string `yaml:"tag"`
	Priority int64  `yaml:"priority"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

func runSource(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: casparian source apply <file> | list")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "apply":
		runSourceApply(rest)
	case "list":
		runSourceList(rest)
	default:
		fmt.Fprintf(os.Stderr, "casparian source: unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

func runSourceApply(args []string) {
	fs := flag.NewFlagSet("source apply", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit a JSON summary instead of human-readable output")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: casparian source apply <file>

Parses a sources.yaml declaration and upserts every Source and nested
TaggingRule it names into the catalog.
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

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		errors.FatalError(errors.NewNotFoundError("Cannot read sources file", err.Error(), "Check the path and try again"), *jsonOut)
	}

	var decl sourcesFile
	if err := yaml.Unmarshal(data, &decl); err != nil {
		errors.FatalError(errors.NewConfigError("Cannot parse sources file", err.Error(), "Check the YAML syntax", err), *jsonOut)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()

	type applied struct {
		Name      string `json:"name"`
		ID        int64  `json:"id"`
		RuleCount int    `json:"rule_count"`
	}
	var results []applied

	for _, sd := range decl.Sources {
		if sd.Name == "" || sd.Path == "" {
			errors.FatalError(errors.NewConfigError("Invalid source declaration", "every source requires name and path", "Add the missing field and re-apply", nil), *jsonOut)
		}
		enabled := true
		if sd.Enabled != nil {
			enabled = *sd.Enabled
		}
		id, err := store.UpsertSource(ctx, catalog.Source{
			WorkspaceID:      defaultWorkspaceID,
			Name:             sd.Name,
			SourceType:       catalog.SourceTypeLocal,
			Path:             sd.Path,
			PollIntervalSecs: sd.PollIntervalSecs,
			Enabled:          enabled,
		})
		if err != nil {
			errors.FatalError(errors.NewDatabaseError("Cannot upsert source", err.Error(), "", err), *jsonOut)
		}

		for _, rd := range sd.TaggingRules {
			ruleEnabled := true
			if rd.Enabled != nil {
				ruleEnabled = *rd.Enabled
			}
			if _, err := store.UpsertTaggingRule(ctx, catalog.TaggingRule{
				SourceID: id, Name: rd.Name, Pattern: rd.Pattern, Tag: rd.Tag,
				Priority: rd.Priority, Enabled: ruleEnabled,
			}); err != nil {
				errors.FatalError(errors.NewDatabaseError("Cannot upsert tagging rule", err.Error(), "", err), *jsonOut)
			}
		}

		results = append(results, applied{Name: sd.Name, ID: id, RuleCount: len(sd.TaggingRules)})
		if !*jsonOut {
			ui.Successf("Applied source %q (id=%d) with %d tagging rule(s)", sd.Name, id, len(sd.TaggingRules))
		}
	}

	if *jsonOut {
		if err := output.JSON(results); err != nil {
			errors.FatalError(err, true)
		}
	}
}

func runSourceList(args []string) {
	fs := flag.NewFlagSet("source list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := newLogger()
	ctx := context.Background()
	store, _ := openStore(ctx, logger)
	defer store.Close()

	sources, err := store.ListSources(ctx, defaultWorkspaceID)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("Cannot list sources", err.Error(), "", err), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(sources); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	if len(sources) == 0 {
		ui.Info("No sources declared yet. Run `casparian source apply <file>`.")
		return
	}
	for _, src := range sources {
		status := "enabled"
		if !src.Enabled {
			status = "disabled"
		}
		fmt.Printf("%s  %s  %s  (%s)\n", ui.Label(fmt.Sprintf("#%d", src.ID)), src.Name, ui.DimText(src.Path), status)
	}
}
