// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package scanner discovers files under a declared source root and
// persists them into the catalog as batches of ScannedFile rows. Two
// engines share the same config and persistence path: an in-process
// parallel walker, and a subprocess engine that reads the
// newline-delimited wire protocol from a helper binary's stdout.
package scanner
