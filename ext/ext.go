package ext

import (
	"context"
	"time"

	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is persisted in pending state.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called on every progress update of a running job.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, percent float64, message string) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job attempt fails.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called after the next attempt of a failed job has been
// scheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, failed, next *job.Job) error
}

// JobAborted is called from inside a running handler at the moment it
// observes or raises cancellation.
type JobAborted interface {
	OnJobAborted(ctx context.Context, j *job.Job, reason string) error
}

// JobCancelled is called once the runner has persisted the cancelled
// state of a job.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job, reason string) error
}

// CronFired is called when the scheduler enqueues a run of a cron
// definition.
type CronFired interface {
	OnCronFired(ctx context.Context, cronName string, cronID id.CronID, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
