// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// JobStatus enumerates the job state machine.
type JobStatus string

const (
	JobQueued    JobStatus = "Queued"
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobStaged    JobStatus = "Staged"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobAborted   JobStatus = "Aborted"
	JobSkipped   JobStatus = "Skipped"
)

func (js JobStatus) IsValid() bool {
	switch js {
	case JobQueued, JobPending, JobRunning, JobStaged, JobCompleted, JobFailed, JobAborted, JobSkipped:
		return true
	default:
		return false
	}
}

// MaxRetries bounds how many times a Failed job may be requeued before
// it is moved to the dead-letter table.
const MaxRetries = 5

// Job is one unit of parser work against one file (or one synthetic
// input).
type Job struct {
	ID             int64
	FileID         sql.NullInt64
	PipelineRunID  sql.NullInt64
	PluginName     string
	Priority       int64
	Status         JobStatus
	RetryCount     int64
	ClaimTime      sql.NullInt64
	EndTime        sql.NullInt64
	ErrorMessage   sql.NullString
	ResultSummary  sql.NullString
	WorkerHost     sql.NullString
	WorkerPID      sql.NullInt64
	CreatedAt      int64
}

// EnsureJobsSchema creates the jobs and dead_letters tables if absent.
func (s *Store) EnsureJobsSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobsDDL); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, deadLettersDDL)
	return err
}

// Enqueue inserts one Queued row per file id.
func (s *Store) Enqueue(ctx context.Context, fileIDs []int64, pipelineRunID sql.NullInt64, pluginName string, priority int64, nowMs int64) ([]int64, error) {
	var ids []int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, fileID := range fileIDs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO jobs (file_id, pipeline_run_id, plugin_name, priority, status, retry_count, created_at)
				VALUES (?, ?, ?, ?, ?, 0, ?)
			`, fileID, pipelineRunID, pluginName, priority, string(JobQueued), nowMs)
			if err != nil {
				return fmt.Errorf("enqueue file %d: %w", fileID, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// PopNext atomically selects the lowest-id Queued row ordered by
// (priority DESC, created_at ASC) and transitions it to Running. It
// returns (nil, nil) when the queue is empty. The transaction makes
// concurrent poppers serializable: exactly one observes any given row.
func (s *Store) PopNext(ctx context.Context, nowMs int64) (*Job, error) {
	var job *Job
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs WHERE status = ?
			ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1
		`, string(JobQueued))
		var id int64
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("pop_next select: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, claim_time = ? WHERE id = ? AND status = ?
		`, string(JobRunning), nowMs, id, string(JobQueued))
		if err != nil {
			return fmt.Errorf("pop_next claim: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Lost the race to another popper; nothing to return.
			return nil
		}

		loaded, err := s.loadJobTx(ctx, tx, id)
		if err != nil {
			return err
		}
		job = loaded
		return nil
	})
	return job, err
}

func (s *Store) loadJobTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, file_id, pipeline_run_id, plugin_name, priority, status, retry_count,
		       claim_time, end_time, error_message, result_summary, worker_host, worker_pid, created_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var statusStr string
	if err := row.Scan(&j.ID, &j.FileID, &j.PipelineRunID, &j.PluginName, &j.Priority, &statusStr,
		&j.RetryCount, &j.ClaimTime, &j.EndTime, &j.ErrorMessage, &j.ResultSummary,
		&j.WorkerHost, &j.WorkerPID, &j.CreatedAt); err != nil {
		return nil, fmt.Errorf("catalog: scan job: %w", err)
	}
	j.Status = JobStatus(statusStr)
	if !j.Status.IsValid() {
		return nil, ErrInvalidState{Entity: "job.status", Value: statusStr}
	}
	return &j, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, pipeline_run_id, plugin_name, priority, status, retry_count,
		       claim_time, end_time, error_message, result_summary, worker_host, worker_pid, created_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// Complete transitions a Running job to Completed. A job in any other
// status is left unchanged and an error is returned.
func (s *Store) Complete(ctx context.Context, id int64, summary string, nowMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, end_time = ?, result_summary = ? WHERE id = ? AND status = ?
	`, string(JobCompleted), nowMs, summary, id, string(JobRunning))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("catalog: complete job %d: job is not Running", id)
	}
	return nil
}

// Fail transitions a Running job to Failed. A job in any other status
// is left unchanged and an error is returned.
func (s *Store) Fail(ctx context.Context, id int64, errMsg string, nowMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, end_time = ?, error_message = ? WHERE id = ? AND status = ?
	`, string(JobFailed), nowMs, errMsg, id, string(JobRunning))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("catalog: fail job %d: job is not Running", id)
	}
	return nil
}

// RequeueResult reports whether a requeue landed the job back in the
// queue or moved it to dead-letter.
type RequeueResult string

const (
	RequeuedToQueue    RequeueResult = "requeued"
	RequeuedDeadLetter RequeueResult = "dead_letter"
)

// Requeue implements the Failed -> {Queued, DeadLetter} transition: if
// retry_count < MaxRetries, clear claim/end/error and return to
// Queued, incrementing retry_count; otherwise create a dead-letter row
// and leave the job terminal in Failed.
func (s *Store) Requeue(ctx context.Context, id int64) (RequeueResult, error) {
	var result RequeueResult
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var retryCount int64
		var errMsg sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT retry_count, error_message FROM jobs WHERE id = ?`, id).
			Scan(&retryCount, &errMsg); err != nil {
			return fmt.Errorf("requeue lookup: %w", err)
		}

		if retryCount < MaxRetries {
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs SET status = ?, retry_count = retry_count + 1,
					claim_time = NULL, end_time = NULL, error_message = NULL
				WHERE id = ?
			`, string(JobQueued), id); err != nil {
				return fmt.Errorf("requeue update: %w", err)
			}
			result = RequeuedToQueue
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (job_id, last_error, failed_attempts) VALUES (?, ?, ?)
			ON CONFLICT (job_id) DO UPDATE SET last_error = excluded.last_error, failed_attempts = excluded.failed_attempts
		`, id, errMsg.String, retryCount+1); err != nil {
			return fmt.Errorf("dead letter insert: %w", err)
		}
		result = RequeuedDeadLetter
		return nil
	})
	return result, err
}

// Cancel transitions a job from Queued/Running/Pending to Aborted.
// Any other status is a no-op: a job already terminal in Failed (e.g.
// after dead-letter) stays Failed.
func (s *Store) Cancel(ctx context.Context, id int64, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, end_time = ?, error_message = 'Cancelled by user'
		WHERE id = ? AND status IN (?, ?, ?)
	`, string(JobAborted), nowMs, id, string(JobQueued), string(JobRunning), string(JobPending))
	return err
}

// QueueStats reports counts by status and dead-letter size.
type QueueStats struct {
	ByStatus     map[JobStatus]int64
	DeadLetters  int64
}

// Stats computes the current queue statistics.
func (s *Store) Stats(ctx context.Context) (QueueStats, error) {
	stats := QueueStats{ByStatus: make(map[JobStatus]int64)}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("catalog: queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&stats.DeadLetters); err != nil {
		return stats, fmt.Errorf("catalog: dead letter count: %w", err)
	}
	return stats, nil
}

// JobFilter narrows ListJobs to a plugin name and/or a set of
// statuses; zero-value fields are unfiltered.
type JobFilter struct {
	PluginName string
	Statuses   []JobStatus
	Limit      int
}

// ListJobs returns jobs matching filter, newest (highest id) first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `
		SELECT id, file_id, pipeline_run_id, plugin_name, priority, status, retry_count,
		       claim_time, end_time, error_message, result_summary, worker_host, worker_pid, created_at
		FROM jobs WHERE 1=1`
	var args []any

	if filter.PluginName != "" {
		query += " AND plugin_name = ?"
		args = append(args, filter.PluginName)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		placeholders = placeholders[:len(placeholders)-1]
		query += " AND status IN (" + placeholders + ")"
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var statusStr string
		if err := rows.Scan(&j.ID, &j.FileID, &j.PipelineRunID, &j.PluginName, &j.Priority, &statusStr,
			&j.RetryCount, &j.ClaimTime, &j.EndTime, &j.ErrorMessage, &j.ResultSummary,
			&j.WorkerHost, &j.WorkerPID, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan job: %w", err)
		}
		j.Status = JobStatus(statusStr)
		if !j.Status.IsValid() {
			return nil, ErrInvalidState{Entity: "job.status", Value: statusStr}
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
