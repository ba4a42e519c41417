// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/casparianhq/flow/internal/catalog"
)

// ComputeFileUID derives a stable identifier for a file from its
// source type and full path only — never from size or mtime, so the
// uid survives a touch that preserves the path but changes metadata.
func ComputeFileUID(sourceType catalog.SourceType, fullPath string) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s|%s", sourceType, fullPath)))
	return hex.EncodeToString(sum[:])
}
