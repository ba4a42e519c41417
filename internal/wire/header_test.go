// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderPackUnpackRoundTrip(t *testing.T) {
	h := Header{Ver: Version, Op: OpDispatch, JobID: 42, PayloadLen: 128}
	packed := h.Pack()

	got, err := UnpackHeader(packed[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestUnpackHeaderVersionMismatch(t *testing.T) {
	h := Header{Ver: 0x01, Op: OpIdentify, JobID: 1, PayloadLen: 0}
	packed := h.Pack()

	_, err := UnpackHeader(packed[:])
	require.Error(t, err)
	var mismatch ErrVersionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint8(0x01), mismatch.Got)
}

func TestUnpackHeaderWrongSize(t *testing.T) {
	_, err := UnpackHeader(make([]byte, 10))
	require.Error(t, err)
}

func TestOpCodeIsValid(t *testing.T) {
	assert.True(t, OpIdentify.IsValid())
	assert.True(t, OpAck.IsValid())
	assert.False(t, OpCode(0).IsValid())
	assert.False(t, OpCode(200).IsValid())
}

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := IdentifyPayload{WorkerID: "w-1", Capabilities: []string{"*"}}

	require.NoError(t, WriteMessage(&buf, OpIdentify, 0, payload))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpIdentify, msg.Header.Op)

	var got IdentifyPayload
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, payload, got)
}

func TestReadMessageTruncatedHeader(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{0x04, 0x01}))
	require.Error(t, err)
}
