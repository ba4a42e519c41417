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

// SinkType names the concrete sink engine a topic writes through.
type SinkType string

const (
	SinkTypeParquet    SinkType = "parquet"
	SinkTypeDuckDB     SinkType = "duckdb"
	SinkTypePostgres   SinkType = "postgres"
	SinkTypeSQLServer  SinkType = "sqlserver"
)

func (st SinkType) IsValid() bool {
	switch st {
	case SinkTypeParquet, SinkTypeDuckDB, SinkTypePostgres, SinkTypeSQLServer:
		return true
	default:
		return false
	}
}

// WriteMode controls how a sink reconciles a job's output against
// whatever a topic already holds.
type WriteMode string

const (
	WriteModeAppend  WriteMode = "append"
	WriteModeReplace WriteMode = "replace"
	WriteModeError   WriteMode = "error"
)

func (wm WriteMode) IsValid() bool {
	switch wm {
	case WriteModeAppend, WriteModeReplace, WriteModeError:
		return true
	default:
		return false
	}
}

// TopicConfig declares where a plugin's named output topic lands and
// how writes to it are reconciled.
type TopicConfig struct {
	PluginName string
	TopicName  string
	URI        string
	Mode       WriteMode
	SinkType   SinkType
	SchemaJSON sql.NullString
	Enabled    bool
}

// EnsureTopicsSchema creates the topic_configs table if absent.
func (s *Store) EnsureTopicsSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, topicConfigsDDL)
	return err
}

// UpsertTopicConfig inserts or updates a topic config by
// (plugin_name, topic_name).
func (s *Store) UpsertTopicConfig(ctx context.Context, tc TopicConfig) error {
	if !tc.Mode.IsValid() {
		return ErrInvalidState{Entity: "topic_config.mode", Value: string(tc.Mode)}
	}
	if !tc.SinkType.IsValid() {
		return ErrInvalidState{Entity: "topic_config.sink_type", Value: string(tc.SinkType)}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_configs (plugin_name, topic_name, uri, mode, sink_type, schema_json, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plugin_name, topic_name) DO UPDATE SET
			uri = excluded.uri,
			mode = excluded.mode,
			sink_type = excluded.sink_type,
			schema_json = excluded.schema_json,
			enabled = excluded.enabled
	`, tc.PluginName, tc.TopicName, tc.URI, string(tc.Mode), string(tc.SinkType), tc.SchemaJSON, tc.Enabled)
	if err != nil {
		return fmt.Errorf("catalog: upsert topic config: %w", err)
	}
	return nil
}

const topicConfigColumns = `plugin_name, topic_name, uri, mode, sink_type, schema_json, enabled`

func scanTopicConfig(row interface {
	Scan(dest ...any) error
}) (*TopicConfig, error) {
	var tc TopicConfig
	var mode, sinkType string
	var enabled int
	if err := row.Scan(&tc.PluginName, &tc.TopicName, &tc.URI, &mode, &sinkType, &tc.SchemaJSON, &enabled); err != nil {
		return nil, err
	}
	tc.Mode = WriteMode(mode)
	tc.SinkType = SinkType(sinkType)
	tc.Enabled = enabled != 0
	return &tc, nil
}

// GetTopicConfig loads one topic's configuration.
func (s *Store) GetTopicConfig(ctx context.Context, pluginName, topicName string) (*TopicConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+topicConfigColumns+` FROM topic_configs WHERE plugin_name = ? AND topic_name = ?
	`, pluginName, topicName)
	tc, err := scanTopicConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get topic config: %w", err)
	}
	return tc, nil
}

// ListTopicConfigs returns every configured topic for a plugin.
func (s *Store) ListTopicConfigs(ctx context.Context, pluginName string) ([]TopicConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+topicConfigColumns+` FROM topic_configs WHERE plugin_name = ?
	`, pluginName)
	if err != nil {
		return nil, fmt.Errorf("catalog: list topic configs: %w", err)
	}
	defer rows.Close()

	var out []TopicConfig
	for rows.Next() {
		tc, err := scanTopicConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan topic config: %w", err)
		}
		out = append(out, *tc)
	}
	return out, rows.Err()
}
