// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"fmt"
)

// TaggingRule assigns a tag to files matching a glob pattern, within a
// single source. Priority ties are broken by rule id (older first).
type TaggingRule struct {
	ID       int64
	SourceID int64
	Name     string
	Pattern  string
	Tag      string
	Priority int64
	Enabled  bool
}

// EnsureTaggingRulesSchema creates the tagging_rules table if absent.
func (s *Store) EnsureTaggingRulesSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, taggingRulesDDL)
	return err
}

// UpsertTaggingRule inserts or updates a rule by (source_id, name).
func (s *Store) UpsertTaggingRule(ctx context.Context, r TaggingRule) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tagging_rules (source_id, name, pattern, tag, priority, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, name) DO UPDATE SET
			pattern = excluded.pattern, tag = excluded.tag,
			priority = excluded.priority, enabled = excluded.enabled
	`, r.SourceID, r.Name, r.Pattern, r.Tag, r.Priority, r.Enabled)
	if err != nil {
		return 0, fmt.Errorf("catalog: upsert tagging rule: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM tagging_rules WHERE source_id = ? AND name = ?`, r.SourceID, r.Name).Scan(&id)
	return id, err
}

// ListTaggingRules returns every rule for a source, in no particular
// order; callers (the tagger) impose (priority DESC, id ASC) order.
func (s *Store) ListTaggingRules(ctx context.Context, sourceID int64) ([]TaggingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, name, pattern, tag, priority, enabled
		FROM tagging_rules WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list tagging rules: %w", err)
	}
	defer rows.Close()

	var out []TaggingRule
	for rows.Next() {
		var r TaggingRule
		var enabled int
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Name, &r.Pattern, &r.Tag, &r.Priority, &enabled); err != nil {
			return nil, fmt.Errorf("catalog: scan tagging rule: %w", err)
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyTag sets tag/tag_source/rule_id on a scanned file row directly,
// used by the tagger after classification and by manual overrides.
func (s *Store) ApplyTag(ctx context.Context, fileID int64, tag string, source TagSource, ruleID int64) error {
	var ruleArg any
	if ruleID != 0 {
		ruleArg = ruleID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scanned_files SET tag = ?, tag_source = ?, rule_id = ? WHERE id = ?
	`, tag, string(source), ruleArg, fileID)
	if err != nil {
		return fmt.Errorf("catalog: apply tag: %w", err)
	}
	return nil
}
