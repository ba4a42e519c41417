// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package testing

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casparianhq/flow/internal/catalog"
)

// NewTestCatalog opens a fresh sqlite-backed catalog in a temp
// directory, creates every catalog-owned table, and registers cleanup
// to close it. The backend is sqlite because it requires no external
// toolchain in test environments; callers that specifically need
// duckdb semantics open their own Store with catalog.BackendDuckDB.
func NewTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "casparian_flow.sqlite3")
	store, err := catalog.Open(context.Background(), dbPath, catalog.BackendSQLite, nil)
	if err != nil {
		t.Fatalf("open test catalog: %v", err)
	}
	if err := store.EnsureAllSchema(context.Background()); err != nil {
		t.Fatalf("ensure test catalog schema: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// FakeClock is a mutable, goroutine-safe clock for tests that need
// deterministic scan epochs or job claim/complete timestamps instead
// of wall-clock time.Now().
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowMs returns the clock's current time as Unix milliseconds, the
// unit every catalog timestamp column uses.
func (c *FakeClock) NowMs() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set pins the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
