// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package catalog implements the embedded control-plane store: sources,
// scanned files, tagging rules, the job queue, plugin/topic config,
// selection specs/snapshots, and the schema-version gate, on top of two
// interchangeable backends (sqlite, duckdb).
package catalog

import (
	"fmt"
	"time"
)

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
	KindBoolean
	KindTimestamp
)

// Value is a backend-neutral tagged value (Null, Integer, Real, Text,
// Blob, Boolean, Timestamp) whose Driver method gives the form a
// database/sql driver takes as a bind parameter. The catalog's own
// queries bind and scan plain Go types and sql.Null* fields directly;
// they do not go through Value.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	bl   bool
	t    time.Time
}

func Null() Value                    { return Value{kind: KindNull} }
func Integer(v int64) Value          { return Value{kind: KindInteger, i: v} }
func Real(v float64) Value           { return Value{kind: KindReal, f: v} }
func Text(v string) Value            { return Value{kind: KindText, s: v} }
func Blob(v []byte) Value            { return Value{kind: KindBlob, b: v} }
func Boolean(v bool) Value           { return Value{kind: KindBoolean, bl: v} }
func Timestamp(v time.Time) Value    { return Value{kind: KindTimestamp, t: v.UTC()} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }

// Driver returns the value in the form the database/sql driver expects
// as a bind parameter.
func (v Value) Driver() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	case KindBoolean:
		return v.bl
	case KindTimestamp:
		return v.t.UnixMilli()
	default:
		return nil
	}
}

func (v Value) Int64() (int64, error) {
	if v.kind != KindInteger {
		return 0, fmt.Errorf("catalog: value is %v, not Integer", v.kind)
	}
	return v.i, nil
}

func (v Value) Float64() (float64, error) {
	if v.kind != KindReal {
		return 0, fmt.Errorf("catalog: value is %v, not Real", v.kind)
	}
	return v.f, nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindReal:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("<%d bytes>", len(v.b))
	case KindBoolean:
		return fmt.Sprintf("%t", v.bl)
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInteger:
		return "Integer"
	case KindReal:
		return "Real"
	case KindText:
		return "Text"
	case KindBlob:
		return "Blob"
	case KindBoolean:
		return "Boolean"
	case KindTimestamp:
		return "Timestamp"
	default:
		return "Unknown"
	}
}
