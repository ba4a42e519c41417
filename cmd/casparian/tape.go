// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/casparianhq/flow/internal/errors"
	"github.com/casparianhq/flow/internal/output"
	"github.com/casparianhq/flow/internal/tape"
	"github.com/casparianhq/flow/internal/ui"
)

func runTape(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: casparian tape explain|validate <file>")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "explain":
		runTapeExplain(rest)
	case "validate":
		runTapeValidate(rest)
	default:
		fmt.Fprintf(os.Stderr, "casparian tape: unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

func openTape(path string) []tape.Envelope {
	f, err := os.Open(path)
	if err != nil {
		errors.FatalError(errors.NewNotFoundError("Cannot open tape file", err.Error(), "Check the path and try again"), false)
	}
	defer f.Close()

	envelopes, err := tape.Read(f)
	if err != nil {
		errors.FatalError(errors.NewInternalError("Cannot decode tape file", err.Error(), "", err), false)
	}
	return envelopes
}

func runTapeExplain(args []string) {
	fs := flag.NewFlagSet("tape explain", flag.ExitOnError)
	format := fs.String("format", "text", "Output format: text or json")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian tape explain <file> [--format text|json]")
		os.Exit(1)
	}

	envelopes := openTape(fs.Arg(0))

	if *format == "json" {
		if err := output.JSON(envelopes); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	if *format != "text" {
		errors.FatalError(errors.NewInputError("Invalid --format", fmt.Sprintf("got %q, want text or json", *format), "Pass --format text or --format json"), false)
	}

	ui.Header(fmt.Sprintf("Tape: %s (%d envelopes)", fs.Arg(0), len(envelopes)))
	for _, e := range envelopes {
		parent := ""
		if e.ParentID != "" {
			parent = " parent=" + e.ParentID
		}
		fmt.Printf("  [%d] %s correlation=%s%s\n", e.Seq, e.EventName, e.CorrelationID, parent)
	}
}

func runTapeValidate(args []string) {
	fs := flag.NewFlagSet("tape validate", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit a JSON result instead of human-readable output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: casparian tape validate <file>")
		os.Exit(1)
	}

	envelopes := openTape(fs.Arg(0))
	err := tape.Validate(envelopes)

	if *jsonOut {
		result := map[string]any{"valid": err == nil, "envelope_count": len(envelopes)}
		if err != nil {
			result["error"] = err.Error()
		}
		if encErr := output.JSON(result); encErr != nil {
			errors.FatalError(encErr, true)
		}
		if err != nil {
			os.Exit(1)
		}
		return
	}

	if err != nil {
		ui.Errorf("Invalid tape: %s", err.Error())
		os.Exit(1)
	}
	ui.Successf("Tape is valid (%d envelopes)", len(envelopes))
}
