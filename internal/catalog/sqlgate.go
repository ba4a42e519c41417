// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"COPY", "ATTACH", "DETACH", "INSTALL", "LOAD", "PRAGMA",
}

var allowedFirstKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"EXPLAIN": true,
}

var (
	lineCommentRE  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRE = regexp.MustCompile(`(?s)/\*.*?\*/`)
	wordRE         = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// ValidateReadOnly enforces the ad-hoc query gate: strip comments,
// reject statement chaining and any forbidden keyword, and require the
// first keyword to be one of SELECT/WITH/EXPLAIN.
func ValidateReadOnly(sqlText string) error {
	stripped := blockCommentRE.ReplaceAllString(sqlText, " ")
	stripped = lineCommentRE.ReplaceAllString(stripped, " ")
	trimmed := strings.TrimSpace(stripped)
	if trimmed == "" {
		return ErrForbiddenSQL{Reason: "empty statement"}
	}

	// Disallow ';' chaining. A single trailing ';' is tolerated.
	body := strings.TrimRight(trimmed, " \t\n;")
	if strings.Contains(body, ";") {
		return ErrForbiddenSQL{Reason: "statement chaining via ';' is not allowed"}
	}

	upper := strings.ToUpper(body)
	for _, word := range wordRE.FindAllString(upper, -1) {
		for _, forbidden := range forbiddenKeywords {
			if word == forbidden {
				return ErrForbiddenSQL{Reason: fmt.Sprintf("keyword %s is not allowed", forbidden)}
			}
		}
	}

	first := wordRE.FindString(upper)
	if !allowedFirstKeywords[first] {
		return ErrForbiddenSQL{Reason: fmt.Sprintf("statement must begin with SELECT, WITH, or EXPLAIN, got %q", first)}
	}
	return nil
}

// WrapWithLimit applies the row limit by wrapping the (already
// validated) user statement rather than rewriting it.
func WrapWithLimit(sqlText string, limit int) string {
	body := strings.TrimRight(strings.TrimSpace(sqlText), " \t\n;")
	return fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", body, limit)
}
