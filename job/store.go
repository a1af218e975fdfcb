package job

import (
	"context"

	"github.com/assaka/daino-jobs/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// Type filters by job type. Empty means all types.
	Type Type
	// StoreID filters by tenant. Empty means all tenants.
	StoreID string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// StateReader reads the authoritative state of a job. It is the only
// store access a running handler needs for cancellation checks.
type StateReader interface {
	JobState(ctx context.Context, jobID id.JobID) (State, error)
}

// Store defines the persistence contract for jobs.
type Store interface {
	StateReader

	// EnqueueJob persists a new job in pending state.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimNextJob atomically claims the highest-priority pending job whose
	// ScheduledAt has passed, restricted to types when non-empty, and moves
	// it to running. It returns (nil, nil) when nothing is claimable.
	ClaimNextJob(ctx context.Context, types []Type, workerID id.WorkerID) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// RequestCancel cancels a pending job outright and moves a running
	// job to cancelling. Terminal jobs yield ErrInvalidState.
	RequestCancel(ctx context.Context, jobID id.JobID, reason string) (*Job, error)

	// ScheduleRetry inserts the next attempt of a failed job as a new
	// pending row and returns it. Backoff policy belongs to the store.
	ScheduleRetry(ctx context.Context, failed *Job) (*Job, error)

	// ListJobs returns jobs matching opts, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts ListOpts) (int64, error)
}

// NextAttempt builds the pending row that retries failed.
func NextAttempt(failed *Job) *Job {
	next := New(failed.Type, failed.Payload,
		WithMaxRetries(failed.MaxRetries),
		WithPriority(failed.Priority),
		WithTimeout(failed.Timeout),
		WithStoreID(failed.StoreID),
		WithUserID(failed.UserID),
	)
	next.RetryCount = failed.RetryCount + 1
	next.ParentID = failed.ID
	return next
}
