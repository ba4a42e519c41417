// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package scanner

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Config tunes the in-process walker and is mirrored 1:1 into CLI
// flags for the subprocess engine.
type Config struct {
	Threads             int
	BatchSize           int
	IncludeHidden       bool
	FollowSymlinks      bool
	ExcludeDirNames     []string
	ExcludePathPatterns []string
	ComputeStats        bool

	// MaxDepth bounds recursion below the source root; 0 means
	// unlimited. Depth 1 is the root's immediate children only,
	// matching the CLI's non-recursive `scan` mode.
	MaxDepth int
	// IncludeExts, when non-empty, restricts matches to files whose
	// extension (without the leading dot) is in the set.
	IncludeExts []string
	MinSize     int64
	MaxSize     int64
}

// DefaultConfig is the conservative CLI default: a handful of worker
// threads, modest batch size, dotfiles and VCS metadata excluded.
func DefaultConfig() Config {
	return Config{
		Threads:         4,
		BatchSize:       500,
		IncludeHidden:   false,
		FollowSymlinks:  false,
		ExcludeDirNames: []string{".git", "node_modules", ".venv", "__pycache__"},
	}
}

func (c Config) skipDirName(name string) bool {
	for _, excluded := range c.ExcludeDirNames {
		if name == excluded {
			return true
		}
	}
	return false
}

// skipPath applies ExcludePathPatterns to a slash-normalized full
// path. A pattern carrying glob metacharacters is matched with the
// same glob engine the tagger compiles rules with; a plain pattern is
// a substring test, so `target` still excludes every path under any
// target/ directory without requiring `**` spelling.
func (c Config) skipPath(fullPath string) bool {
	normalized := filepath.ToSlash(fullPath)
	for _, pattern := range c.ExcludePathPatterns {
		if strings.ContainsAny(pattern, "*?[{") {
			if ok, err := doublestar.Match(pattern, normalized); err == nil && ok {
				return true
			}
			continue
		}
		if strings.Contains(normalized, pattern) {
			return true
		}
	}
	return false
}

func (c Config) isHidden(name string) bool {
	return !c.IncludeHidden && strings.HasPrefix(name, ".")
}

// depthOf counts path separators in rel, the slash-joined path
// relative to the source root; a root-level file has depth 1.
func depthOf(rel string) int {
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func (c Config) exceedsDepth(rel string) bool {
	return c.MaxDepth > 0 && depthOf(rel) > c.MaxDepth
}

func (c Config) matchesSizeAndExt(relPath string, size int64) bool {
	if c.MinSize > 0 && size < c.MinSize {
		return false
	}
	if c.MaxSize > 0 && size > c.MaxSize {
		return false
	}
	if len(c.IncludeExts) == 0 {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(relPath), ".")
	for _, want := range c.IncludeExts {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

func (c Config) threads() int {
	if c.Threads <= 0 {
		return 1
	}
	return c.Threads
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 500
	}
	return c.BatchSize
}
