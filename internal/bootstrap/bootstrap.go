// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bootstrap resolves the on-disk layout rooted at CASPARIAN_HOME
// and the backend selected by CASPARIAN_DB_BACKEND.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DBBackend names one of the two interchangeable catalog backends.
type DBBackend string

const (
	BackendSQLite  DBBackend = "sqlite"
	BackendDuckDB  DBBackend = "duckdb"
	envHome        = "CASPARIAN_HOME"
	envBackend     = "CASPARIAN_DB_BACKEND"
	defaultHomeDir = ".casparian_flow"
)

// Home describes the resolved on-disk layout for a running instance.
type Home struct {
	Root       string
	DBPath     string
	Backend    DBBackend
	VenvDir    string
	SessionDir string
	TapeDir    string
	ConfigDir  string
}

// Resolve computes the Home layout from the environment, creating
// directories that do not yet exist. It is idempotent and safe to call
// from every entrypoint (CLI, Sentinel, Worker).
func Resolve() (*Home, error) {
	root := os.Getenv(envHome)
	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		root = filepath.Join(homeDir, defaultHomeDir)
	}

	backend := DBBackend(os.Getenv(envBackend))
	switch backend {
	case BackendSQLite, BackendDuckDB:
	case "":
		backend = BackendSQLite
	default:
		return nil, fmt.Errorf("unknown %s: %q (want sqlite or duckdb)", envBackend, backend)
	}

	h := &Home{
		Root:       root,
		Backend:    backend,
		VenvDir:    filepath.Join(root, "venvs"),
		SessionDir: filepath.Join(root, "sessions"),
		TapeDir:    filepath.Join(root, "tapes"),
		ConfigDir:  filepath.Join(root, "config"),
	}
	switch backend {
	case BackendDuckDB:
		h.DBPath = filepath.Join(root, "casparian_flow.duckdb")
	default:
		h.DBPath = filepath.Join(root, "casparian_flow.sqlite3")
	}

	for _, dir := range []string{h.Root, h.VenvDir, h.SessionDir, h.TapeDir, h.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return h, nil
}

// LogFields returns slog attributes describing the resolved layout, for
// a single startup log line shared by every entrypoint.
func (h *Home) LogFields() []any {
	return []any{
		"home", h.Root,
		"backend", string(h.Backend),
		"db_path", h.DBPath,
	}
}

// MustResolve is a convenience for command entrypoints that have no
// better recourse than to fail fast; it logs via the given logger before
// returning a nil Home on error.
func MustResolve(logger *slog.Logger) (*Home, error) {
	h, err := Resolve()
	if err != nil {
		if logger != nil {
			logger.Error("bootstrap.resolve.failed", "err", err)
		}
		return nil, err
	}
	return h, nil
}
