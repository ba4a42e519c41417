// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package sentinel is the job dispatcher: it binds a TCP endpoint,
// tracks connected workers, matches idle capable workers to queued
// jobs, and applies the retry/abort/stale-worker policies around the
// job queue's state machine.
package sentinel
