package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

const jobColumns = `
	id, type, payload, result, state, priority, store_id, user_id,
	max_retries, retry_count, parent_id, progress, message, last_error,
	cancel_reason, worker_id, scheduled_at, started_at, completed_at,
	failed_at, cancelled_at, timeout, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_queue (`+jobColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24
		)`,
		j.ID, string(j.Type), j.Payload, j.Result, string(j.State), j.Priority, j.StoreID, j.UserID,
		j.MaxRetries, j.RetryCount, j.ParentID, j.Progress, j.Message, j.LastError,
		j.CancelReason, j.WorkerID, j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.FailedAt, j.CancelledAt, j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobs/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the highest-priority due pending job.
// SKIP LOCKED keeps concurrent workers from blocking on each other.
func (s *Store) ClaimNextJob(ctx context.Context, types []job.Type, workerID id.WorkerID) (*job.Job, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE job_queue
		SET state = 'running', worker_id = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE state = 'pending'
			  AND scheduled_at <= NOW()
			  AND (cardinality($1::text[]) = 0 OR type = ANY($1::text[]))
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		names, workerID,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs/postgres: claim job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM job_queue WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs/postgres: get job: %w", err)
	}
	return j, nil
}

// JobState reads only the state column; it backs cancellation checks.
func (s *Store) JobState(ctx context.Context, jobID id.JobID) (job.State, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM job_queue WHERE id = $1`, jobID).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return "", jobs.ErrJobNotFound
		}
		return "", fmt.Errorf("jobs/postgres: job state: %w", err)
	}
	return job.State(state), nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_queue SET
			payload = $2, result = $3, state = $4, priority = $5,
			max_retries = $6, retry_count = $7, progress = $8, message = $9,
			last_error = $10, cancel_reason = $11, worker_id = $12,
			scheduled_at = $13, started_at = $14, completed_at = $15,
			failed_at = $16, cancelled_at = $17, timeout = $18,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID, j.Payload, j.Result, string(j.State), j.Priority,
		j.MaxRetries, j.RetryCount, j.Progress, j.Message,
		j.LastError, j.CancelReason, j.WorkerID,
		j.ScheduledAt, j.StartedAt, j.CompletedAt,
		j.FailedAt, j.CancelledAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// RequestCancel cancels a pending job outright and flags a running one as
// cancelling, in one statement.
func (s *Store) RequestCancel(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job_queue SET
			state = CASE state WHEN 'pending' THEN 'cancelled' ELSE 'cancelling' END,
			cancelled_at = CASE state WHEN 'pending' THEN NOW() ELSE cancelled_at END,
			cancel_reason = $2,
			updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'running', 'cancelling')
		RETURNING`+jobColumns,
		jobID, reason,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("jobs/postgres: request cancel: %w", err)
	}
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, jobs.ErrInvalidState
}

// ScheduleRetry inserts the next attempt of a failed job.
func (s *Store) ScheduleRetry(ctx context.Context, failed *job.Job) (*job.Job, error) {
	next := job.NextAttempt(failed)
	next.ScheduledAt = s.now().Add(s.retry.Delay(next.RetryCount))
	if err := s.EnqueueJob(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func jobFilter(opts job.ListOpts) *filter {
	f := &filter{}
	if opts.State != "" {
		f.add("state = ?", string(opts.State))
	}
	if opts.Type != "" {
		f.add("type = ?", string(opts.Type))
	}
	if opts.StoreID != "" {
		f.add("store_id = ?", opts.StoreID)
	}
	return f
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	f := jobFilter(opts)
	query := `SELECT` + jobColumns + ` FROM job_queue` + f.where() +
		` ORDER BY created_at DESC, id DESC` + f.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	f := jobFilter(opts)
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_queue`+f.where(), f.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("jobs/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		typ       string
		state     string
		timeoutNs int64
	)
	err := row.Scan(
		&j.ID, &typ, &j.Payload, &j.Result, &state, &j.Priority, &j.StoreID, &j.UserID,
		&j.MaxRetries, &j.RetryCount, &j.ParentID, &j.Progress, &j.Message, &j.LastError,
		&j.CancelReason, &j.WorkerID, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt,
		&j.FailedAt, &j.CancelledAt, &timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Type = job.Type(typ)
	j.State = job.State(state)
	j.Timeout = time.Duration(timeoutNs)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan job row: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate job rows: %w", err)
	}
	return out, nil
}
