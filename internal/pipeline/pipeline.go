// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package pipeline applies, runs, and backfills declarative pipeline
// definitions: it resolves a Selection against the catalog, snapshots
// the matching file-id set, and enqueues one processing-queue entry
// per file.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/casparianhq/flow/internal/catalog"
	"github.com/casparianhq/flow/internal/queue"
	"github.com/casparianhq/flow/internal/selection"
)

// LogicalDateLayout is the canonical string form a logical date is
// stamped and compared with, one calendar day of granularity.
const LogicalDateLayout = "2006-01-02"

// Spec is the declarative YAML shape `pipeline apply` parses.
type Spec struct {
	Name      string         `yaml:"name"`
	Schedule  string         `yaml:"schedule,omitempty"`
	Selection SelectionSpec  `yaml:"selection"`
	Run       RunSpec        `yaml:"run"`
	Context   *ContextSpec   `yaml:"context,omitempty"`
	Export    *ExportSpec    `yaml:"export,omitempty"`
}

// SelectionSpec is selection.Filters in YAML-declarable form: Source
// names a Source by name rather than id, since the declaration is
// authored by a human ahead of any catalog insert.
type SelectionSpec struct {
	Tag       *string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Ext       *string `yaml:"ext,omitempty" json:"ext,omitempty"`
	Since     *string `yaml:"since,omitempty" json:"since,omitempty"`
	Source    *string `yaml:"source,omitempty" json:"source,omitempty"`
	Watermark *string `yaml:"watermark,omitempty" json:"watermark,omitempty"`
}

// RunSpec names the plugin a resolved snapshot is dispatched to.
type RunSpec struct {
	Parser string  `yaml:"parser"`
	Output *string `yaml:"output,omitempty"`
}

// ContextSpec and MaterializeSpec are carried through for forward
// compatibility with context-materializing pipelines; this build does
// not yet interpret them beyond storing them on the applied Spec.
type ContextSpec struct {
	Materialize *MaterializeSpec `yaml:"materialize,omitempty"`
}

type MaterializeSpec struct {
	Tag    *string `yaml:"tag,omitempty"`
	Output *string `yaml:"output,omitempty"`
}

// ExportSpec names an optional export target for a pipeline's output.
type ExportSpec struct {
	Name   *string `yaml:"name,omitempty"`
	Output *string `yaml:"output,omitempty"`
}

// ParseSpec decodes a pipeline definition from YAML bytes.
func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("pipeline: parse spec: %w", err)
	}
	if spec.Name == "" {
		return Spec{}, fmt.Errorf("pipeline: spec.name is required")
	}
	if spec.Run.Parser == "" {
		return Spec{}, fmt.Errorf("pipeline: spec.run.parser is required")
	}
	return spec, nil
}

// Runner applies, runs, and backfills pipelines against a catalog and
// job queue. now defaults to time.Now and is only overridden in tests.
type Runner struct {
	store       *catalog.Store
	queue       *queue.Queue
	workspaceID int64
	log         *slog.Logger
	now         func() time.Time
}

// NewRunner returns a Runner backed by store/q, scoped to workspaceID.
func NewRunner(store *catalog.Store, q *queue.Queue, workspaceID int64, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, queue: q, workspaceID: workspaceID, log: logger, now: time.Now}
}

// Apply parses spec, upserts its SelectionSpec, assigns the next
// version for spec.Name, and inserts a Pipeline row.
func (r *Runner) Apply(ctx context.Context, spec Spec) (*catalog.Pipeline, error) {
	selJSON, err := json.Marshal(spec.Selection)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal selection: %w", err)
	}

	nowMs := r.now().UnixMilli()
	specID, err := r.store.InsertSelectionSpec(ctx, string(selJSON), nowMs)
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert selection spec: %w", err)
	}

	version, err := r.store.NextPipelineVersion(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: next version: %w", err)
	}

	p := catalog.Pipeline{
		Name:      spec.Name,
		Version:   version,
		SpecID:    specID,
		Parser:    spec.Run.Parser,
		CreatedAt: nowMs,
	}
	if spec.Run.Output != nil {
		p.Output.String, p.Output.Valid = *spec.Run.Output, true
	}
	if spec.Schedule != "" {
		p.Schedule.String, p.Schedule.Valid = spec.Schedule, true
	}

	id, err := r.store.InsertPipeline(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert pipeline: %w", err)
	}
	p.ID = id

	r.log.Info("pipeline.applied", "name", p.Name, "version", p.Version)
	return &p, nil
}

// RunResult reports the outcome of a single Run call.
type RunResult struct {
	PipelineID   int64
	LogicalDate  string
	NoOp         bool
	DryRun       bool
	SnapshotHash string
	FileCount    int
	RunID        int64
}

// Run resolves name's latest applied pipeline for logicalDate (a
// calendar day). A run for (pipeline_id, logical_date) is idempotent:
// re-running for the same logical date is a no-op. dryRun resolves and
// reports counts without persisting a snapshot, run, or queue entries.
func (r *Runner) Run(ctx context.Context, name string, logicalDate time.Time, dryRun bool) (*RunResult, error) {
	p, err := r.store.LatestPipeline(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve %q: %w", name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline: no applied pipeline named %q", name)
	}

	logicalDateStr := logicalDate.UTC().Format(LogicalDateLayout)

	// The existing-run check precedes everything else, dry run
	// included: once (pipeline_id, logical_date) has a run, there is no
	// selection left to resolve or preview.
	existing, err := r.store.GetPipelineRun(ctx, p.ID, logicalDateStr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: check existing run: %w", err)
	}
	if existing != nil {
		return &RunResult{PipelineID: p.ID, LogicalDate: logicalDateStr, NoOp: true, RunID: existing.ID, DryRun: dryRun}, nil
	}

	specJSON, err := r.store.GetSelectionSpec(ctx, p.SpecID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load selection spec: %w", err)
	}
	var sel SelectionSpec
	if err := json.Unmarshal([]byte(specJSON), &sel); err != nil {
		return nil, fmt.Errorf("pipeline: decode selection spec: %w", err)
	}

	filters, err := r.resolveFilters(ctx, sel)
	if err != nil {
		return nil, err
	}

	// Logical date resolves at end-of-day UTC: a file stamped anywhere
	// within the logical day is eligible.
	logicalDateMs := logicalDate.UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Millisecond).UnixMilli()

	var files []catalog.ScannedFile
	if filters.SourceID != nil {
		files, err = r.store.ListFiles(ctx, *filters.SourceID, catalog.FileStatusPresent)
	} else {
		files, err = r.store.ListAllFiles(ctx, catalog.FileStatusPresent)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: list candidate files: %w", err)
	}

	res := selection.Resolve(files, filters, logicalDateMs)
	hash := selection.SnapshotHash(p.SpecID, logicalDateStr, res.FileIDs)

	result := &RunResult{
		PipelineID:   p.ID,
		LogicalDate:  logicalDateStr,
		DryRun:       dryRun,
		SnapshotHash: hash,
		FileCount:    len(res.FileIDs),
	}
	if dryRun {
		return result, nil
	}

	nowMs := r.now().UnixMilli()
	snapshotID, err := r.store.InsertSnapshot(ctx, p.SpecID, hash, logicalDateStr, res.WatermarkValue, res.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert snapshot: %w", err)
	}

	status := catalog.PipelineRunQueued
	if len(res.FileIDs) == 0 {
		status = catalog.PipelineRunNoOp
	}

	runID, err := r.store.InsertPipelineRun(ctx, p.ID, logicalDateStr, &snapshotID, status, nowMs)
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert pipeline run: %w", err)
	}
	result.RunID = runID

	if status == catalog.PipelineRunQueued {
		if _, err := r.queue.Enqueue(ctx, res.FileIDs, &runID, p.Parser, 0); err != nil {
			return nil, fmt.Errorf("pipeline: enqueue jobs: %w", err)
		}
	}

	r.log.Info("pipeline.run.complete", "name", name, "logical_date", logicalDateStr,
		"file_count", result.FileCount, "status", string(status))
	return result, nil
}

// Backfill invokes Run once per calendar day from start to end,
// inclusive.
func (r *Runner) Backfill(ctx context.Context, name string, start, end time.Time, dryRun bool) ([]*RunResult, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("pipeline: backfill end %s precedes start %s", end, start)
	}

	var results []*RunResult
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		res, err := r.Run(ctx, name, d, dryRun)
		if err != nil {
			return results, fmt.Errorf("pipeline: backfill %s: %w", d.Format(LogicalDateLayout), err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) resolveFilters(ctx context.Context, sel SelectionSpec) (selection.Filters, error) {
	var filters selection.Filters
	filters.Tag = sel.Tag
	filters.Extension = sel.Ext

	if sel.Since != nil {
		d, err := ParseSinceDuration(*sel.Since)
		if err != nil {
			return filters, err
		}
		since := r.now().Add(-d).UnixMilli()
		filters.SinceMs = &since
	}
	if sel.Watermark != nil {
		filters.Watermark = selection.Watermark(*sel.Watermark)
		if filters.Watermark != selection.WatermarkNone && filters.Watermark != selection.WatermarkMtime {
			return filters, fmt.Errorf("pipeline: unsupported watermark %q", *sel.Watermark)
		}
	}
	if sel.Source != nil {
		src, err := r.store.GetSourceByName(ctx, r.workspaceID, *sel.Source)
		if err != nil {
			return filters, fmt.Errorf("pipeline: resolve source %q: %w", *sel.Source, err)
		}
		if src == nil {
			return filters, fmt.Errorf("pipeline: unknown source %q", *sel.Source)
		}
		filters.SourceID = &src.ID
	}
	return filters, nil
}
