// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package testing provides shared fixtures for casparian integration
// tests: a temp-backed catalog opened against a scratch directory, and
// a fake clock for deterministic scan-epoch/claim-time assertions.
//
// # Quick Start
//
//	func TestMyFeature(t *testing.T) {
//	    store := testing.NewTestCatalog(t)
//	    clock := testing.NewFakeClock(time.UnixMilli(1_700_000_000_000))
//	    // ... exercise store using clock.NowMs() for deterministic epochs
//	}
package testing
