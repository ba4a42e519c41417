// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress is one snapshot of scan throughput, emitted to a
// caller-supplied sink at most once per second.
type Progress struct {
	DirsScanned    uint64
	FilesFound     uint64
	FilesPersisted uint64
	CurrentDir     string
	ElapsedMs      int64
	FilesPerSec    float64
	Stalled        bool
}

// ProgressSink receives Progress snapshots. Implementations must not
// block the scan for long; Scan calls this synchronously from the
// goroutine that persists batches.
type ProgressSink func(Progress)

// progressTracker accumulates atomic counters and throttles emission
// to once per second.
type progressTracker struct {
	start          time.Time
	dirsScanned    atomic.Uint64
	filesFound     atomic.Uint64
	filesPersisted atomic.Uint64

	mu          sync.Mutex
	currentDir  string
	lastEmit    time.Time
	lastCount   uint64
	sink        ProgressSink
}

func newProgressTracker(sink ProgressSink) *progressTracker {
	return &progressTracker{start: time.Now(), sink: sink}
}

func (t *progressTracker) setCurrentDir(dir string) {
	if t.sink == nil {
		return
	}
	t.mu.Lock()
	t.currentDir = dir
	t.mu.Unlock()
}

func (t *progressTracker) addDirs(n uint64)    { t.dirsScanned.Add(n) }
func (t *progressTracker) addFound(n uint64)   { t.filesFound.Add(n) }
func (t *progressTracker) addPersisted(n uint64) {
	t.filesPersisted.Add(n)
	t.maybeEmit()
}

func (t *progressTracker) maybeEmit() {
	if t.sink == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastEmit) < time.Second {
		return
	}

	persisted := t.filesPersisted.Load()
	elapsed := now.Sub(t.start)
	var rate float64
	if elapsed > 0 {
		rate = float64(persisted) / elapsed.Seconds()
	}
	stalled := t.lastEmit.IsZero() == false && persisted == t.lastCount

	t.lastEmit = now
	t.lastCount = persisted

	t.sink(Progress{
		DirsScanned:    t.dirsScanned.Load(),
		FilesFound:     t.filesFound.Load(),
		FilesPersisted: persisted,
		CurrentDir:     t.currentDir,
		ElapsedMs:      elapsed.Milliseconds(),
		FilesPerSec:    rate,
		Stalled:        stalled,
	})
}
