// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package tagger compiles ordered glob rules per source and assigns
// the first matching rule's tag to each scanned file.
package tagger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/casparianhq/flow/internal/catalog"
)

// Rule is the compiled form of a catalog.TaggingRule: glob pattern
// validated once at construction time so a matching pass can never
// fail partway through.
type Rule struct {
	ID         int64
	SourceID   int64
	Name       string
	Pattern    string
	Tag        string
	Priority   int64
	Enabled    bool
	CaseFold   bool
	normalized string
}

// Tagger holds rules for a single source, pre-ordered by
// (priority DESC, id ASC) so matching always resolves ties the same
// way: the first compiled rule wins.
type Tagger struct {
	rules []Rule
}

// New compiles rules for one source. An invalid glob pattern fails the
// whole construction — partial Taggers are never observable.
func New(rules []catalog.TaggingRule, caseFold bool) (*Tagger, error) {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		pattern := r.Pattern
		if caseFold {
			pattern = strings.ToLower(pattern)
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("tagger: invalid pattern in rule %q: %s", r.Name, r.Pattern)
		}
		compiled = append(compiled, Rule{
			ID: r.ID, SourceID: r.SourceID, Name: r.Name,
			Pattern: r.Pattern, Tag: r.Tag, Priority: r.Priority,
			Enabled: r.Enabled, CaseFold: caseFold, normalized: pattern,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return compiled[i].ID < compiled[j].ID
	})

	return &Tagger{rules: compiled}, nil
}

// Match is the (tag, rule_id) result of classifying one file.
type Match struct {
	Tag    string
	RuleID int64
	Found  bool
}

// Classify returns the first enabled rule (for the file's source)
// whose pattern matches relPath. A pattern without a '/' is matched
// against relPath's last element, so "*.csv" also tags "sub/b.csv".
func (t *Tagger) Classify(sourceID int64, relPath string) Match {
	candidate := relPath
	for _, r := range t.rules {
		if !r.Enabled || r.SourceID != sourceID {
			continue
		}
		path := candidate
		if r.CaseFold {
			path = strings.ToLower(path)
		}
		if !strings.Contains(r.normalized, "/") {
			path = path[strings.LastIndexByte(path, '/')+1:]
		}
		ok, err := doublestar.Match(r.normalized, path)
		if err != nil || !ok {
			continue
		}
		return Match{Tag: r.Tag, RuleID: r.ID, Found: true}
	}
	return Match{}
}

// Rules returns the compiled rule set in its resolved match order, for
// diagnostics and tests.
func (t *Tagger) Rules() []Rule {
	return t.rules
}
