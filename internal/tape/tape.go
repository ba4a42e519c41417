// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package tape reads and validates .tape files: newline-delimited JSON
// envelopes recorded by the UI/session layers, which this build treats
// as external collaborators. Casparian Flow only consumes the format
// here, for `tape explain` and `tape validate`; nothing in this repo
// writes one.
package tape

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is one line of a .tape file.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Seq           int64           `json:"seq"`
	CorrelationID string          `json:"correlation_id"`
	ParentID      string          `json:"parent_id,omitempty"`
	EventName     string          `json:"event_name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Read decodes every envelope in r, in file order.
func Read(r io.Reader) ([]Envelope, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var envelopes []Envelope
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Envelope
		if err := json.Unmarshal(line, &e); err != nil {
			return envelopes, fmt.Errorf("tape: line %d: decode: %w", lineNo, err)
		}
		envelopes = append(envelopes, e)
	}
	if err := sc.Err(); err != nil {
		return envelopes, fmt.Errorf("tape: read: %w", err)
	}
	return envelopes, nil
}

// Validate checks the structural invariants of a decoded tape:
// every envelope names an event and a correlation id, and seq is
// strictly monotonic increasing across the whole file.
func Validate(envelopes []Envelope) error {
	var lastSeq int64 = -1
	for i, e := range envelopes {
		if e.EventName == "" {
			return fmt.Errorf("tape: envelope %d: missing event_name", i)
		}
		if e.CorrelationID == "" {
			return fmt.Errorf("tape: envelope %d (%s): missing correlation_id", i, e.EventName)
		}
		if i > 0 && e.Seq <= lastSeq {
			return fmt.Errorf("tape: envelope %d (%s): seq %d is not strictly greater than previous seq %d", i, e.EventName, e.Seq, lastSeq)
		}
		lastSeq = e.Seq
	}
	return nil
}
