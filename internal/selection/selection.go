// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package selection resolves a declarative selection spec against the
// catalog into a deterministic, hashed file-id snapshot keyed by
// logical date.
package selection

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/casparianhq/flow/internal/catalog"
)

// Watermark selects which file attribute gates eligibility by
// logical date.
type Watermark string

const (
	WatermarkNone  Watermark = ""
	WatermarkMtime Watermark = "mtime"
)

// Filters is the declarative selection input.
type Filters struct {
	SourceID  *int64
	Tag       *string
	Extension *string
	SinceMs   *int64
	Watermark Watermark
}

// Resolution is the deterministic output of resolving Filters against
// the catalog for one logical date.
type Resolution struct {
	FileIDs        []int64
	WatermarkValue *int64
}

// Resolve evaluates filters against every present file under
// filters.SourceID (or, if unset, the given candidate set from the
// caller) at logicalDateMs. With a mtime watermark, a file is eligible
// when its mtime is at or before the logical date and at or after
// since, when set; without one, filters are conjunctive on file
// attributes alone.
func Resolve(files []catalog.ScannedFile, filters Filters, logicalDateMs int64) Resolution {
	var ids []int64
	var maxMtime *int64

	for _, f := range files {
		if filters.SourceID != nil && f.SourceID != *filters.SourceID {
			continue
		}
		if filters.Tag != nil && (!f.Tag.Valid || f.Tag.String != *filters.Tag) {
			continue
		}
		if filters.Extension != nil {
			_, _, ext := splitRelPath(f.RelPath)
			if ext != strings.ToLower(*filters.Extension) {
				continue
			}
		}

		switch filters.Watermark {
		case WatermarkMtime:
			if f.MtimeMs > logicalDateMs {
				continue
			}
			if filters.SinceMs != nil && f.MtimeMs < *filters.SinceMs {
				continue
			}
		default:
			if filters.SinceMs != nil && f.MtimeMs < *filters.SinceMs {
				continue
			}
		}

		ids = append(ids, f.ID)
		if maxMtime == nil || f.MtimeMs > *maxMtime {
			mtime := f.MtimeMs
			maxMtime = &mtime
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res := Resolution{FileIDs: ids}
	if filters.Watermark == WatermarkMtime {
		res.WatermarkValue = maxMtime
	}
	return res
}

func splitRelPath(relPath string) (parent, name, ext string) {
	idx := strings.LastIndexByte(relPath, '/')
	name = relPath
	if idx >= 0 {
		parent, name = relPath[:idx], relPath[idx+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot > 0 {
		ext = strings.ToLower(name[dot+1:])
	}
	return parent, name, ext
}

// SnapshotHash computes BLAKE3(spec_id ∥ '|' ∥ logical_date ∥ '|' ∥
// sorted(file_ids) joined by ','). Identical inputs on an unchanged
// catalog always produce the identical hash.
func SnapshotHash(specID int64, logicalDate string, fileIDs []int64) string {
	sorted := append([]int64(nil), fileIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}

	input := fmt.Sprintf("%d|%s|%s", specID, logicalDate, strings.Join(parts, ","))
	sum := blake3.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ResolveAndSnapshot resolves filters against the catalog's currently
// present files, computes the snapshot hash, and persists the
// spec+snapshot. When filters.SourceID is set, only that source's
// files are considered; otherwise every present file in the catalog is
// a candidate. It is idempotent only at the pipeline layer (see
// internal/pipeline), which checks for an existing run before calling
// this.
func ResolveAndSnapshot(ctx context.Context, store *catalog.Store, specID int64, specJSON string, filters Filters, logicalDateMs int64, logicalDate string, nowMs int64) (int64, Resolution, string, error) {
	var files []catalog.ScannedFile
	var err error
	if filters.SourceID != nil {
		files, err = store.ListFiles(ctx, *filters.SourceID, catalog.FileStatusPresent)
	} else {
		files, err = store.ListAllFiles(ctx, catalog.FileStatusPresent)
	}
	if err != nil {
		return 0, Resolution{}, "", fmt.Errorf("selection: list files: %w", err)
	}

	res := Resolve(files, filters, logicalDateMs)
	hash := SnapshotHash(specID, logicalDate, res.FileIDs)

	snapshotID, err := store.InsertSnapshot(ctx, specID, hash, logicalDate, res.WatermarkValue, res.FileIDs)
	if err != nil {
		return 0, Resolution{}, "", fmt.Errorf("selection: insert snapshot: %w", err)
	}
	return snapshotID, res, hash, nil
}
