// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package tape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadAndValidateAcceptsWellFormedTape(t *testing.T) {
	data := `{"schema_version":1,"seq":1,"correlation_id":"c1","event_name":"session.start"}
{"schema_version":1,"seq":2,"correlation_id":"c1","parent_id":"c1","event_name":"decision.made","payload":{"choice":"accept"}}
`
	envs, err := Read(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, envs, 2)
	require.NoError(t, Validate(envs))
	require.Equal(t, "session.start", envs[0].EventName)
}

func TestValidateRejectsNonMonotonicSeq(t *testing.T) {
	envs := []Envelope{
		{Seq: 1, CorrelationID: "c1", EventName: "a"},
		{Seq: 1, CorrelationID: "c1", EventName: "b"},
	}
	err := Validate(envs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "seq")
}

func TestValidateRejectsMissingEventName(t *testing.T) {
	envs := []Envelope{{Seq: 1, CorrelationID: "c1"}}
	err := Validate(envs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "event_name")
}

func TestReadRejectsMalformedLine(t *testing.T) {
	_, err := Read(strings.NewReader("not json\n"))
	require.Error(t, err)
}
