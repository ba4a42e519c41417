// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertPluginManifestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := PluginManifest{
		PluginName:   "extract_text",
		Version:      "1.0.0",
		RuntimeKind:  RuntimeKindPythonShim,
		Entrypoint:   "extract_text:run",
		SourceHash:   "abc123",
		ArtifactHash: "def456",
		OutputsJSON:  `["lines"]`,
		Status:       PluginStatusActive,
		CreatedAt:    100,
	}
	require.NoError(t, s.UpsertPluginManifest(ctx, m))

	got, err := s.GetPluginManifest(ctx, "extract_text", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, RuntimeKindPythonShim, got.RuntimeKind)
	require.Equal(t, PluginStatusActive, got.Status)
}

func TestLatestActivePluginPicksNewestDeployed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPluginManifest(ctx, PluginManifest{
		PluginName: "extract_text", Version: "1.0.0", RuntimeKind: RuntimeKindNative,
		Entrypoint: "e", SourceHash: "h1", ArtifactHash: "a1", OutputsJSON: "[]",
		Status: PluginStatusActive, CreatedAt: 100, DeployedAt: sql.NullInt64{Int64: 100, Valid: true},
	}))
	require.NoError(t, s.UpsertPluginManifest(ctx, PluginManifest{
		PluginName: "extract_text", Version: "2.0.0", RuntimeKind: RuntimeKindNative,
		Entrypoint: "e", SourceHash: "h2", ArtifactHash: "a2", OutputsJSON: "[]",
		Status: PluginStatusActive, CreatedAt: 200, DeployedAt: sql.NullInt64{Int64: 200, Valid: true},
	}))

	latest, err := s.LatestActivePlugin(ctx, "extract_text")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "2.0.0", latest.Version)
}

func TestRetireOtherVersionsEnforcesSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPluginManifest(ctx, PluginManifest{
		PluginName: "extract_text", Version: "1.0.0", RuntimeKind: RuntimeKindNative,
		Entrypoint: "e", SourceHash: "h1", ArtifactHash: "a1", OutputsJSON: "[]",
		Status: PluginStatusActive, CreatedAt: 100,
	}))
	require.NoError(t, s.UpsertPluginManifest(ctx, PluginManifest{
		PluginName: "extract_text", Version: "2.0.0", RuntimeKind: RuntimeKindNative,
		Entrypoint: "e", SourceHash: "h2", ArtifactHash: "a2", OutputsJSON: "[]",
		Status: PluginStatusActive, CreatedAt: 200,
	}))

	require.NoError(t, s.RetireOtherVersions(ctx, "extract_text", "2.0.0"))

	versions, err := s.ListPluginVersions(ctx, "extract_text")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for _, v := range versions {
		if v.Version == "1.0.0" {
			require.Equal(t, PluginStatusRetired, v.Status)
		} else {
			require.Equal(t, PluginStatusActive, v.Status)
		}
	}
}
