package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/id"
)

const cronColumns = `
	id, name, job_type, configuration, handler, handler_method, script,
	store_id, schedule, schedule_type, is_active, is_paused, max_runs,
	max_failures, run_count, failure_count, consecutive_failures,
	last_run_at, next_run_at, created_at, updated_at`

// CreateCron persists a new definition. Names are unique per store.
func (s *Store) CreateCron(ctx context.Context, d *cron.Definition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cron_jobs (`+cronColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21
		)`,
		d.ID, d.Name, string(d.JobType), d.Configuration, d.Handler, d.HandlerMethod, d.Script,
		d.StoreID, d.Schedule, string(d.ScheduleType), d.IsActive, d.IsPaused, d.MaxRuns,
		d.MaxFailures, d.RunCount, d.FailureCount, d.ConsecutiveFailures,
		d.LastRunAt, d.NextRunAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrDuplicateCron
		}
		return fmt.Errorf("jobs/postgres: create cron: %w", err)
	}
	return nil
}

// GetCron retrieves a definition by ID.
func (s *Store) GetCron(ctx context.Context, cronID id.CronID) (*cron.Definition, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+cronColumns+` FROM cron_jobs WHERE id = $1`, cronID)

	d, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrCronNotFound
		}
		return nil, fmt.Errorf("jobs/postgres: get cron: %w", err)
	}
	return d, nil
}

// ListCrons returns definitions ordered by name. An empty storeID lists
// every tenant.
func (s *Store) ListCrons(ctx context.Context, storeID string) ([]*cron.Definition, error) {
	f := &filter{}
	if storeID != "" {
		f.add("store_id = ?", storeID)
	}
	rows, err := s.pool.Query(ctx, `SELECT`+cronColumns+` FROM cron_jobs`+f.where()+` ORDER BY name ASC`, f.args...)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list crons: %w", err)
	}
	defer rows.Close()

	return collectCrons(rows)
}

// ListDueCrons returns runnable definitions due at now. The CanRun gate
// is applied in SQL so skipped definitions are never fetched.
func (s *Store) ListDueCrons(ctx context.Context, now time.Time) ([]*cron.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+cronColumns+`
		FROM cron_jobs
		WHERE is_active
		  AND NOT is_paused
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		  AND (max_runs = 0 OR run_count < max_runs)
		  AND (max_failures = 0 OR consecutive_failures < max_failures)
		ORDER BY next_run_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list due crons: %w", err)
	}
	defer rows.Close()

	return collectCrons(rows)
}

// UpdateCron persists changes to a definition.
func (s *Store) UpdateCron(ctx context.Context, d *cron.Definition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cron_jobs SET
			name = $2, job_type = $3, configuration = $4, handler = $5,
			handler_method = $6, script = $7, schedule = $8, schedule_type = $9,
			is_active = $10, is_paused = $11, max_runs = $12, max_failures = $13,
			next_run_at = $14, updated_at = NOW()
		WHERE id = $1`,
		d.ID, d.Name, string(d.JobType), d.Configuration, d.Handler,
		d.HandlerMethod, d.Script, d.Schedule, string(d.ScheduleType),
		d.IsActive, d.IsPaused, d.MaxRuns, d.MaxFailures,
		d.NextRunAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrDuplicateCron
		}
		return fmt.Errorf("jobs/postgres: update cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrCronNotFound
	}
	return nil
}

// RecordCronFired increments the run counter and moves the next run.
func (s *Store) RecordCronFired(ctx context.Context, cronID id.CronID, at time.Time, next *time.Time) error {
	return s.execCron(ctx, "record cron fired", `
		UPDATE cron_jobs SET
			run_count = run_count + 1, last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1`,
		cronID, at, next,
	)
}

// RecordCronOutcome updates the failure counters. A successful one-shot
// definition is deactivated.
func (s *Store) RecordCronOutcome(ctx context.Context, cronID id.CronID, success bool) error {
	if success {
		return s.execCron(ctx, "record cron success", `
			UPDATE cron_jobs SET
				consecutive_failures = 0,
				is_active = CASE WHEN schedule_type = 'once' THEN FALSE ELSE is_active END,
				next_run_at = CASE WHEN schedule_type = 'once' THEN NULL ELSE next_run_at END,
				updated_at = NOW()
			WHERE id = $1`,
			cronID,
		)
	}
	return s.execCron(ctx, "record cron failure", `
		UPDATE cron_jobs SET
			failure_count = failure_count + 1,
			consecutive_failures = consecutive_failures + 1,
			updated_at = NOW()
		WHERE id = $1`,
		cronID,
	)
}

// DeleteCron removes a definition and its executions.
func (s *Store) DeleteCron(ctx context.Context, cronID id.CronID) error {
	return s.execCron(ctx, "delete cron", `DELETE FROM cron_jobs WHERE id = $1`, cronID)
}

func (s *Store) execCron(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("jobs/postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single definition row.
func scanCron(row pgx.Row) (*cron.Definition, error) {
	var (
		d            cron.Definition
		jobType      string
		scheduleType string
	)
	err := row.Scan(
		&d.ID, &d.Name, &jobType, &d.Configuration, &d.Handler, &d.HandlerMethod, &d.Script,
		&d.StoreID, &d.Schedule, &scheduleType, &d.IsActive, &d.IsPaused, &d.MaxRuns,
		&d.MaxFailures, &d.RunCount, &d.FailureCount, &d.ConsecutiveFailures,
		&d.LastRunAt, &d.NextRunAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.JobType = cron.JobType(jobType)
	d.ScheduleType = cron.ScheduleType(scheduleType)
	return &d, nil
}

func collectCrons(rows pgx.Rows) ([]*cron.Definition, error) {
	var out []*cron.Definition
	for rows.Next() {
		d, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan cron row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate cron rows: %w", err)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

// CreateExecution inserts a running execution record.
func (s *Store) CreateExecution(ctx context.Context, e *cron.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cron_job_executions (
			id, cron_job_id, job_id, store_id, status, result, error,
			duration, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.CronID, e.JobID, e.StoreID, string(e.Status), e.Result, e.Error,
		e.Duration.Nanoseconds(), e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: create execution: %w", err)
	}
	return nil
}

// UpdateExecution records the outcome of an execution.
func (s *Store) UpdateExecution(ctx context.Context, e *cron.Execution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cron_job_executions SET
			status = $2, result = $3, error = $4, duration = $5, completed_at = $6
		WHERE id = $1`,
		e.ID, string(e.Status), e.Result, e.Error, e.Duration.Nanoseconds(), e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("jobs/postgres: update execution %s: not found", e.ID)
	}
	return nil
}

// ListExecutions returns the newest executions of a definition first.
func (s *Store) ListExecutions(ctx context.Context, cronID id.CronID, limit int) ([]*cron.Execution, error) {
	f := &filter{}
	f.add("cron_job_id = ?", cronID)
	rows, err := s.pool.Query(ctx, `
		SELECT id, cron_job_id, job_id, store_id, status, result, error,
		       duration, started_at, completed_at
		FROM cron_job_executions`+f.where()+`
		ORDER BY started_at DESC`+f.page(limit, 0),
		f.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []*cron.Execution
	for rows.Next() {
		var (
			e          cron.Execution
			status     string
			durationNs int64
		)
		if err := rows.Scan(
			&e.ID, &e.CronID, &e.JobID, &e.StoreID, &status, &e.Result, &e.Error,
			&durationNs, &e.StartedAt, &e.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan execution row: %w", err)
		}
		e.Status = cron.Status(status)
		e.Duration = time.Duration(durationNs)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate execution rows: %w", err)
	}
	return out, nil
}
