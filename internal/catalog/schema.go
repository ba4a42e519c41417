// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"fmt"
)

// knownTables lists every table this catalog owns, in FK-safe drop
// order (dependents first). A dev-mode reset drops exactly these.
var knownTables = []string{
	"schema_mismatches",
	"quarantine",
	"sessions",
	"selection_snapshot_files",
	"selection_snapshots",
	"selection_specs",
	"pipeline_runs",
	"pipelines",
	"dead_letters",
	"jobs",
	"topic_configs",
	"plugin_manifests",
	"folder_cache",
	"tagging_rules",
	"scanned_files",
	"sources",
}

// ensureSchemaVersion implements the dev-mode schema gate: read
// schema_version; if present and current, no-op; if present and
// different (or any known table exists without a version row), drop
// all known tables and sequences, then recreate schema_version.
// Downstream components create their own tables lazily on first use.
func (s *Store) ensureSchemaVersion(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("catalog: create schema_version: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`)
	var got int
	err := row.Scan(&got)
	switch {
	case err == nil && got == CurrentSchemaVersion:
		return nil
	case err == nil:
		s.log.Warn("catalog.schema.drift", "got", got, "want", CurrentSchemaVersion)
	}

	if err := s.resetKnownTables(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("catalog: clear schema_version: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("catalog: insert schema_version: %w", err)
	}
	return nil
}

func (s *Store) resetKnownTables(ctx context.Context) error {
	for _, table := range knownTables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("catalog: drop %s: %w", table, err)
		}
	}
	return nil
}

// sourcesDDL, scannedFilesDDL, etc. are created lazily by their owning
// component on first use (EnsureSchema), matching the dev contract:
// the schema_version gate only owns the reset, not table creation.

const sourcesDDL = `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	source_type TEXT NOT NULL,
	path TEXT NOT NULL,
	poll_interval_secs INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	UNIQUE (workspace_id, name)
)`

const scannedFilesDDL = `
CREATE TABLE IF NOT EXISTS scanned_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id INTEGER NOT NULL,
	source_id INTEGER NOT NULL,
	file_uid TEXT NOT NULL,
	full_path TEXT NOT NULL,
	rel_path TEXT NOT NULL,
	parent_path TEXT NOT NULL,
	name TEXT NOT NULL,
	extension TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime_ms INTEGER NOT NULL,
	first_seen_at INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	tag TEXT,
	tag_source TEXT NOT NULL DEFAULT 'none',
	rule_id INTEGER,
	content_hash TEXT,
	error TEXT,
	UNIQUE (source_id, rel_path)
)`

const taggingRulesDDL = `
CREATE TABLE IF NOT EXISTS tagging_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	pattern TEXT NOT NULL,
	tag TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	UNIQUE (source_id, name)
)`

const folderCacheDDL = `
CREATE TABLE IF NOT EXISTS folder_cache (
	source_id INTEGER NOT NULL,
	folder_path TEXT NOT NULL,
	file_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_id, folder_path)
)`

const jobsDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER,
	pipeline_run_id INTEGER,
	plugin_name TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	claim_time INTEGER,
	end_time INTEGER,
	error_message TEXT,
	result_summary TEXT,
	worker_host TEXT,
	worker_pid INTEGER,
	created_at INTEGER NOT NULL
)`

const deadLettersDDL = `
CREATE TABLE IF NOT EXISTS dead_letters (
	job_id INTEGER PRIMARY KEY,
	last_error TEXT NOT NULL,
	failed_attempts INTEGER NOT NULL
)`

const pluginManifestsDDL = `
CREATE TABLE IF NOT EXISTS plugin_manifests (
	plugin_name TEXT NOT NULL,
	version TEXT NOT NULL,
	runtime_kind TEXT NOT NULL,
	entrypoint TEXT NOT NULL,
	source_code TEXT,
	source_hash TEXT NOT NULL,
	env_hash TEXT,
	artifact_hash TEXT NOT NULL,
	outputs_json TEXT NOT NULL,
	signature_verified INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	deployed_at INTEGER,
	PRIMARY KEY (plugin_name, version)
)`

const topicConfigsDDL = `
CREATE TABLE IF NOT EXISTS topic_configs (
	plugin_name TEXT NOT NULL,
	topic_name TEXT NOT NULL,
	uri TEXT NOT NULL,
	mode TEXT NOT NULL,
	sink_type TEXT NOT NULL,
	schema_json TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (plugin_name, topic_name)
)`

const selectionSpecsDDL = `
CREATE TABLE IF NOT EXISTS selection_specs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	spec_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

const selectionSnapshotsDDL = `
CREATE TABLE IF NOT EXISTS selection_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	spec_id INTEGER NOT NULL,
	snapshot_hash TEXT NOT NULL,
	logical_date TEXT NOT NULL,
	watermark_value INTEGER
)`

const selectionSnapshotFilesDDL = `
CREATE TABLE IF NOT EXISTS selection_snapshot_files (
	snapshot_id INTEGER NOT NULL,
	file_id INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, file_id)
)`

const pipelinesDDL = `
CREATE TABLE IF NOT EXISTS pipelines (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	spec_id INTEGER NOT NULL,
	parser TEXT NOT NULL,
	output TEXT,
	schedule TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE (name, version)
)`

const pipelineRunsDDL = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline_id INTEGER NOT NULL,
	logical_date TEXT NOT NULL,
	snapshot_id INTEGER,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (pipeline_id, logical_date)
)`

const sessionsDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	label TEXT,
	created_at INTEGER NOT NULL
)`

const quarantineDDL = `
CREATE TABLE IF NOT EXISTS quarantine (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL,
	job_id INTEGER,
	reason TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

const schemaMismatchesDDL = `
CREATE TABLE IF NOT EXISTS schema_mismatches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	plugin_name TEXT NOT NULL,
	output_name TEXT NOT NULL,
	expected_hash TEXT NOT NULL,
	actual_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// EnsureAllSchema creates every catalog-owned table if absent. Each
// domain package also exposes its own EnsureSchema for standalone
// tests; this is the aggregate used by Open-time bootstrap.
func (s *Store) EnsureAllSchema(ctx context.Context) error {
	ddls := []string{
		sourcesDDL, scannedFilesDDL, taggingRulesDDL, folderCacheDDL,
		jobsDDL, deadLettersDDL, pluginManifestsDDL, topicConfigsDDL,
		selectionSpecsDDL, selectionSnapshotsDDL, selectionSnapshotFilesDDL,
		pipelinesDDL, pipelineRunsDDL,
		sessionsDDL, quarantineDDL, schemaMismatchesDDL,
	}
	for _, ddl := range ddls {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("catalog: ensure schema: %w", err)
		}
	}
	return nil
}
