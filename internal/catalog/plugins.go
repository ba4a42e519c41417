// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RuntimeKind names how the Sentinel/worker must execute a plugin.
type RuntimeKind string

const (
	RuntimeKindPythonShim RuntimeKind = "python_shim"
	RuntimeKindNative     RuntimeKind = "native"
)

func (rk RuntimeKind) IsValid() bool {
	switch rk {
	case RuntimeKindPythonShim, RuntimeKindNative:
		return true
	default:
		return false
	}
}

// PluginStatus tracks a manifest's deployment lifecycle.
type PluginStatus string

const (
	PluginStatusDraft    PluginStatus = "draft"
	PluginStatusActive   PluginStatus = "active"
	PluginStatusRetired  PluginStatus = "retired"
)

// PluginManifest is a deployed, signed parser unit the worker runtime
// can execute. (plugin_name, version) is the primary key. The catalog
// does not stop several versions of a plugin from being Active at once;
// RetireOtherVersions retires all but one on request, and
// LatestActivePlugin picks the most recently deployed Active version.
type PluginManifest struct {
	PluginName        string
	Version           string
	RuntimeKind       RuntimeKind
	Entrypoint        string
	SourceCode        sql.NullString
	SourceHash        string
	EnvHash           sql.NullString
	ArtifactHash      string
	OutputsJSON       string
	SignatureVerified bool
	Status            PluginStatus
	CreatedAt         int64
	DeployedAt        sql.NullInt64
}

// EnsurePluginsSchema creates the plugin_manifests table if absent.
func (s *Store) EnsurePluginsSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pluginManifestsDDL)
	return err
}

// UpsertPluginManifest inserts or replaces a manifest by
// (plugin_name, version).
func (s *Store) UpsertPluginManifest(ctx context.Context, m PluginManifest) error {
	if !m.RuntimeKind.IsValid() {
		return ErrInvalidState{Entity: "plugin_manifest.runtime_kind", Value: string(m.RuntimeKind)}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_manifests (
			plugin_name, version, runtime_kind, entrypoint, source_code, source_hash,
			env_hash, artifact_hash, outputs_json, signature_verified, status, created_at, deployed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plugin_name, version) DO UPDATE SET
			runtime_kind = excluded.runtime_kind,
			entrypoint = excluded.entrypoint,
			source_code = excluded.source_code,
			source_hash = excluded.source_hash,
			env_hash = excluded.env_hash,
			artifact_hash = excluded.artifact_hash,
			outputs_json = excluded.outputs_json,
			signature_verified = excluded.signature_verified,
			status = excluded.status,
			deployed_at = excluded.deployed_at
	`, m.PluginName, m.Version, string(m.RuntimeKind), m.Entrypoint, m.SourceCode, m.SourceHash,
		m.EnvHash, m.ArtifactHash, m.OutputsJSON, m.SignatureVerified, string(m.Status), m.CreatedAt, m.DeployedAt)
	if err != nil {
		return fmt.Errorf("catalog: upsert plugin manifest: %w", err)
	}
	return nil
}

func scanPluginManifest(row interface {
	Scan(dest ...any) error
}) (*PluginManifest, error) {
	var m PluginManifest
	var runtimeKind, status string
	var signatureVerified int
	if err := row.Scan(&m.PluginName, &m.Version, &runtimeKind, &m.Entrypoint, &m.SourceCode, &m.SourceHash,
		&m.EnvHash, &m.ArtifactHash, &m.OutputsJSON, &signatureVerified, &status, &m.CreatedAt, &m.DeployedAt); err != nil {
		return nil, err
	}
	m.RuntimeKind = RuntimeKind(runtimeKind)
	if !m.RuntimeKind.IsValid() {
		return nil, ErrInvalidState{Entity: "plugin_manifest.runtime_kind", Value: runtimeKind}
	}
	m.Status = PluginStatus(status)
	m.SignatureVerified = signatureVerified != 0
	return &m, nil
}

const pluginManifestColumns = `
	plugin_name, version, runtime_kind, entrypoint, source_code, source_hash,
	env_hash, artifact_hash, outputs_json, signature_verified, status, created_at, deployed_at`

// GetPluginManifest loads a specific (plugin_name, version) manifest.
func (s *Store) GetPluginManifest(ctx context.Context, pluginName, version string) (*PluginManifest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pluginManifestColumns+` FROM plugin_manifests WHERE plugin_name = ? AND version = ?
	`, pluginName, version)
	m, err := scanPluginManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get plugin manifest: %w", err)
	}
	return m, nil
}

// LatestActivePlugin resolves a plugin name to its single Active
// manifest, the version the Sentinel dispatches when a job does not
// pin one explicitly.
func (s *Store) LatestActivePlugin(ctx context.Context, pluginName string) (*PluginManifest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pluginManifestColumns+` FROM plugin_manifests
		WHERE plugin_name = ? AND status = ?
		ORDER BY deployed_at DESC, created_at DESC LIMIT 1
	`, pluginName, string(PluginStatusActive))
	m, err := scanPluginManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: latest active plugin: %w", err)
	}
	return m, nil
}

// ListPluginVersions returns every manifest for a plugin name, newest
// created first.
func (s *Store) ListPluginVersions(ctx context.Context, pluginName string) ([]PluginManifest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pluginManifestColumns+` FROM plugin_manifests
		WHERE plugin_name = ? ORDER BY created_at DESC
	`, pluginName)
	if err != nil {
		return nil, fmt.Errorf("catalog: list plugin versions: %w", err)
	}
	defer rows.Close()

	var out []PluginManifest
	for rows.Next() {
		m, err := scanPluginManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan plugin manifest: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// RetireOtherVersions marks every manifest of pluginName other than
// keepVersion as Retired, leaving keepVersion as the only version that
// can still be Active.
func (s *Store) RetireOtherVersions(ctx context.Context, pluginName, keepVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE plugin_manifests SET status = ?
		WHERE plugin_name = ? AND version != ? AND status = ?
	`, string(PluginStatusRetired), pluginName, keepVersion, string(PluginStatusActive))
	if err != nil {
		return fmt.Errorf("catalog: retire plugin versions: %w", err)
	}
	return nil
}
