// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package selection

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casparianhq/flow/internal/catalog"
)

func csvFile(id, mtime int64) catalog.ScannedFile {
	return catalog.ScannedFile{
		ID: id, SourceID: 1, MtimeMs: mtime, RelPath: "f.csv",
		Tag: sql.NullString{String: "csv", Valid: true},
		Status: catalog.FileStatusPresent,
	}
}

func TestResolveMtimeWatermarkDeterminism(t *testing.T) {
	t1, t2, t3, t4 := int64(100), int64(200), int64(300), int64(400)
	files := []catalog.ScannedFile{csvFile(1, t1), csvFile(2, t2), csvFile(3, t3), csvFile(4, t4)}
	tag := "csv"

	filters := Filters{Tag: &tag, Watermark: WatermarkMtime}
	res := Resolve(files, filters, t3)

	require.Equal(t, []int64{1, 2, 3}, res.FileIDs)
	require.NotNil(t, res.WatermarkValue)
	require.Equal(t, t3, *res.WatermarkValue)
}

func TestSnapshotHashStableAndSensitive(t *testing.T) {
	h1 := SnapshotHash(1, "2026-07-31", []int64{3, 1, 2})
	h2 := SnapshotHash(1, "2026-07-31", []int64{1, 2, 3})
	require.Equal(t, h1, h2, "hash must not depend on input ordering")

	h3 := SnapshotHash(1, "2026-07-31", []int64{1, 2, 3, 4})
	require.NotEqual(t, h1, h3)
}
