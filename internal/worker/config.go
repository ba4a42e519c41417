// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"time"

	"github.com/casparianhq/flow/internal/env"
)

// Runtime kind strings, equal to the catalog.RuntimeKind values that
// arrive in DispatchPayload.RuntimeKind. The worker reads no catalog
// tables; it learns of jobs only through the wire protocol.
const (
	RuntimeKindPythonShim = "python_shim"
	RuntimeKindNative     = "native"
)

// HelloTimeout is the longest a parser subprocess may take to send its
// opening hello control frame. The worker checks it once the first
// control frame arrives and fails the job when the hello came later; it
// does not interrupt a subprocess that sends nothing, which keeps the
// job waiting until the subprocess exits or the job is cancelled.
const HelloTimeout = 5 * time.Second

// Config parameterizes a Runner.
type Config struct {
	WorkerID       string
	SentinelAddr   string
	Capabilities   []string
	EnvManager     *env.Manager
	PythonShimPath string // path to the python shim script exec'd ahead of a PythonShim entrypoint.
	ParquetOutDir  string
	ControlPlaneDB string
	HeartbeatEvery time.Duration
	DialTimeout    time.Duration
}

// withDefaults fills zero-value fields with the Runner's operating
// defaults.
func (c Config) withDefaults() Config {
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}
