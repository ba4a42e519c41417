// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertTopicConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tc := TopicConfig{
		PluginName: "extract_text",
		TopicName:  "lines",
		URI:        "file:///data/out/lines.parquet",
		Mode:       WriteModeAppend,
		SinkType:   SinkTypeParquet,
		Enabled:    true,
	}
	require.NoError(t, s.UpsertTopicConfig(ctx, tc))

	got, err := s.GetTopicConfig(ctx, "extract_text", "lines")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, WriteModeAppend, got.Mode)
	require.Equal(t, SinkTypeParquet, got.SinkType)
	require.True(t, got.Enabled)
}

func TestUpsertTopicConfigRejectsInvalidMode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.UpsertTopicConfig(ctx, TopicConfig{
		PluginName: "p", TopicName: "t", URI: "u", Mode: "bogus", SinkType: SinkTypeDuckDB,
	})
	require.Error(t, err)
	require.IsType(t, ErrInvalidState{}, err)
}

func TestListTopicConfigsReturnsAllForPlugin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTopicConfig(ctx, TopicConfig{
		PluginName: "extract_text", TopicName: "lines", URI: "u1", Mode: WriteModeAppend, SinkType: SinkTypeParquet,
	}))
	require.NoError(t, s.UpsertTopicConfig(ctx, TopicConfig{
		PluginName: "extract_text", TopicName: "errors", URI: "u2", Mode: WriteModeReplace, SinkType: SinkTypeDuckDB,
	}))

	list, err := s.ListTopicConfigs(ctx, "extract_text")
	require.NoError(t, err)
	require.Len(t, list, 2)
}
