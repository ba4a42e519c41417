// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package env

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeResolver writes a shell script standing in for `uv`: `venv`
// creates the interpreter path itself (since the real uv would), and
// `sync` is a no-op success.
func fakeResolver(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-uv")
	body := `#!/bin/sh
case "$1" in
  venv)
    shift
    target="$4"
    mkdir -p "$target/bin"
    printf '#!/bin/sh\n' > "$target/bin/python"
    chmod +x "$target/bin/python"
    ;;
  sync)
    ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func TestGetOrCreateCreatesOnMiss(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake resolver script is POSIX shell only")
	}
	root := t.TempDir()
	m := NewManager(root, nil)
	m.resolver = fakeResolver(t)

	interpreter, err := m.GetOrCreate(context.Background(), "abc123", "lockfile-contents", "")
	require.NoError(t, err)
	require.FileExists(t, interpreter)

	meta, err := m.readMetadata("abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", meta.EnvHash)
	require.Equal(t, meta.CreatedAt, meta.LastUsed)
}

func TestGetOrCreateCacheHitTouchesLastUsed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake resolver script is POSIX shell only")
	}
	root := t.TempDir()
	m := NewManager(root, nil)
	m.resolver = fakeResolver(t)

	ctx := context.Background()
	_, err := m.GetOrCreate(ctx, "envhash", "lock", "")
	require.NoError(t, err)

	first, err := m.readMetadata("envhash")
	require.NoError(t, err)

	later := time.UnixMilli(first.CreatedAt).Add(time.Hour)
	m.now = func() time.Time { return later }
	_, err = m.GetOrCreate(ctx, "envhash", "lock", "")
	require.NoError(t, err)

	second, err := m.readMetadata("envhash")
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Greater(t, second.LastUsed, first.CreatedAt)
}

func TestGetOrCreateRejectsEmptyHash(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	_, err := m.GetOrCreate(context.Background(), "", "lock", "")
	require.Error(t, err)
}
