// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sentinel

import (
	"net"
	"time"
)

// WorkerState is a ConnectedWorker's dispatch eligibility.
type WorkerState string

const (
	WorkerIdle WorkerState = "Idle"
	WorkerBusy WorkerState = "Busy"
)

// ConnectedWorker is the Sentinel's view of a live worker connection.
// It is read and changed only under Dispatcher.mu, by the event loop
// and by Dispatcher.Abort.
type ConnectedWorker struct {
	WorkerID     string
	Conn         net.Conn
	Status       WorkerState
	Capabilities map[string]struct{}
	CurrentJobID int64
	LastSeen     time.Time

	// awaitingAbortAck is set when the Sentinel has sent Abort for
	// CurrentJobID; the next Conclude for that job is treated as an
	// abort acknowledgment rather than an ordinary failure.
	awaitingAbortAck bool
}

func newCapabilitySet(caps []string) map[string]struct{} {
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// canRun reports whether this worker advertises capability for
// pluginName, where "*" means universal.
func (w *ConnectedWorker) canRun(pluginName string) bool {
	if _, ok := w.Capabilities["*"]; ok {
		return true
	}
	_, ok := w.Capabilities[pluginName]
	return ok
}
