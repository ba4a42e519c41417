// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package worker implements the Casparian Flow worker runtime: it
// connects to a Sentinel dispatcher, executes one dispatched job at a
// time by shelling out to a parser process (PythonShim or Native), and
// routes the parser's Arrow output to the topic sinks declared for the
// job's plugin.
package worker
