// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package tagger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
)

func TestClassifyFirstMatchWins(t *testing.T) {
	rules := []catalog.TaggingRule{
		{ID: 1, SourceID: 1, Name: "csv", Pattern: "*.csv", Tag: "csv", Priority: 10, Enabled: true},
		{ID: 2, SourceID: 1, Name: "nested_json", Pattern: "sub/*.json", Tag: "nested_json", Priority: 20, Enabled: true},
	}
	tg, err := New(rules, false)
	require.NoError(t, err)

	require.Equal(t, Match{Tag: "csv", RuleID: 1, Found: true}, tg.Classify(1, "a.csv"))
	require.Equal(t, Match{Tag: "csv", RuleID: 1, Found: true}, tg.Classify(1, "sub/b.csv"))
	require.Equal(t, Match{Tag: "nested_json", RuleID: 2, Found: true}, tg.Classify(1, "sub/c.json"))
}

func TestClassifyNoMatch(t *testing.T) {
	tg, err := New(nil, false)
	require.NoError(t, err)
	require.Equal(t, Match{}, tg.Classify(1, "a.csv"))
}

func TestClassifyPriorityOrdering(t *testing.T) {
	rules := []catalog.TaggingRule{
		{ID: 5, SourceID: 1, Name: "low", Pattern: "*.csv", Tag: "low", Priority: 1, Enabled: true},
		{ID: 2, SourceID: 1, Name: "high", Pattern: "*.csv", Tag: "high", Priority: 100, Enabled: true},
	}
	tg, err := New(rules, false)
	require.NoError(t, err)
	require.Equal(t, 2, int(tg.Rules()[0].ID))
	require.Equal(t, "high", tg.Classify(1, "a.csv").Tag)
}

func TestNewRejectsInvalidPattern(t *testing.T) {
	_, err := New([]catalog.TaggingRule{
		{ID: 1, SourceID: 1, Name: "bad", Pattern: "[", Tag: "x", Priority: 1, Enabled: true},
	}, false)
	require.Error(t, err)
}
