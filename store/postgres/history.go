package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
)

// RecordHistory appends an entry.
func (s *Store) RecordHistory(ctx context.Context, e *history.Entry) error {
	var nextRun *time.Time
	if !e.NextRunAt.IsZero() {
		nextRun = &e.NextRunAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_history (
			id, job_id, kind, progress, message, result, error,
			duration, attempt, next_job_id, next_run_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.JobID, string(e.Kind), e.Progress, e.Message, e.Result, e.Error,
		e.Duration.Nanoseconds(), e.Attempt, e.NextJobID, nextRun, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: record history: %w", err)
	}
	return nil
}

// ListHistory returns the entries of a job in insertion order.
func (s *Store) ListHistory(ctx context.Context, jobID id.JobID) ([]*history.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, kind, progress, message, result, error,
		       duration, attempt, next_job_id, next_run_at, created_at
		FROM job_history
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list history: %w", err)
	}
	defer rows.Close()

	var out []*history.Entry
	for rows.Next() {
		var (
			e          history.Entry
			kind       string
			durationNs int64
			nextRun    *time.Time
		)
		if err := rows.Scan(
			&e.ID, &e.JobID, &kind, &e.Progress, &e.Message, &e.Result, &e.Error,
			&durationNs, &e.Attempt, &e.NextJobID, &nextRun, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan history row: %w", err)
		}
		e.Kind = history.Kind(kind)
		e.Duration = time.Duration(durationNs)
		if nextRun != nil {
			e.NextRunAt = *nextRun
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate history rows: %w", err)
	}
	return out, nil
}
