// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuarantineRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	jobID := int64(7)
	_, err := s.Quarantine(ctx, 42, &jobID, "undecodable header", 1000)
	require.NoError(t, err)
	_, err = s.Quarantine(ctx, 43, nil, "zero-byte file", 2000)
	require.NoError(t, err)

	rows, err := s.ListQuarantined(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest first.
	require.EqualValues(t, 43, rows[0].FileID)
	require.False(t, rows[0].JobID.Valid)
	require.EqualValues(t, 42, rows[1].FileID)
	require.EqualValues(t, 7, rows[1].JobID.Int64)
	require.Equal(t, "undecodable header", rows[1].Reason)
}

func TestSchemaMismatchBucket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.RecordSchemaMismatch(ctx, SchemaMismatch{
		JobID: 5, PluginName: "csv_parser", OutputName: "trades",
		ExpectedHash: "aaa", ActualHash: "bbb", CreatedAt: 1000,
	})
	require.NoError(t, err)
	_, err = s.RecordSchemaMismatch(ctx, SchemaMismatch{
		JobID: 6, PluginName: "json_parser", OutputName: "events",
		ExpectedHash: "ccc", ActualHash: "ddd", CreatedAt: 2000,
	})
	require.NoError(t, err)

	all, err := s.ListSchemaMismatches(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	only, err := s.ListSchemaMismatches(ctx, "csv_parser")
	require.NoError(t, err)
	require.Len(t, only, 1)
	require.EqualValues(t, 5, only[0].JobID)
	require.Equal(t, "aaa", only[0].ExpectedHash)
	require.Equal(t, "bbb", only[0].ActualHash)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "rule review", 1000)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "rule review", got.Label.String)

	missing, err := s.GetSession(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
