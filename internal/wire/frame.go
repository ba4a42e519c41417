// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Message is a decoded frame: a header plus its raw JSON payload.
type Message struct {
	Header  Header
	Payload []byte
}

// WriteMessage writes a message as exactly two framing units: the
// 16-byte header, then the payload. op and jobID populate the header;
// payload is marshaled from v.
func WriteMessage(w io.Writer, op OpCode, jobID uint64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal payload: %w", err)
	}
	if uint64(len(payload)) > MaxPayloadSize {
		return ErrPayloadTooLarge{Size: uint32(len(payload))}
	}
	h := Header{Ver: Version, Op: op, JobID: jobID, PayloadLen: uint32(len(payload))}
	hb := h.Pack()
	if _, err := w.Write(hb[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one frame (header, then payload) from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Message{}, fmt.Errorf("wire: read header: %w", err)
	}
	h, err := UnpackHeader(hb[:])
	if err != nil {
		return Message{}, err
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return Message{Header: h, Payload: payload}, nil
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Reader wraps a buffered connection reader for repeated ReadMessage
// calls without re-allocating a bufio.Reader per frame.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 32*1024)}
}

// Read reads the next frame.
func (rd *Reader) Read() (Message, error) {
	return ReadMessage(rd.br)
}
