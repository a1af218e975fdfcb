package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the registry is shared with workers.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  []entry[JobEnqueued]
	jobStarted   []entry[JobStarted]
	jobProgress  []entry[JobProgress]
	jobCompleted []entry[JobCompleted]
	jobFailed    []entry[JobFailed]
	jobRetrying  []entry[JobRetrying]
	jobAborted   []entry[JobAborted]
	jobCancelled []entry[JobCancelled]
	cronFired    []entry[CronFired]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func cache[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobEnqueued = cache(r.jobEnqueued, name, e)
	r.jobStarted = cache(r.jobStarted, name, e)
	r.jobProgress = cache(r.jobProgress, name, e)
	r.jobCompleted = cache(r.jobCompleted, name, e)
	r.jobFailed = cache(r.jobFailed, name, e)
	r.jobRetrying = cache(r.jobRetrying, name, e)
	r.jobAborted = cache(r.jobAborted, name, e)
	r.jobCancelled = cache(r.jobCancelled, name, e)
	r.cronFired = cache(r.cronFired, name, e)
	r.shutdown = cache(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobProgress notifies all extensions that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, percent float64, message string) {
	for _, e := range r.jobProgress {
		if err := e.hook.OnJobProgress(ctx, j, percent, message); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, failed, next *job.Job) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, failed, next); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobAborted notifies all extensions that implement JobAborted.
func (r *Registry) EmitJobAborted(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobAborted {
		if err := e.hook.OnJobAborted(ctx, j, reason); err != nil {
			r.logHookError("OnJobAborted", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j, reason); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, cronName string, cronID id.CronID, jobID id.JobID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, cronName, cronID, jobID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never propagate into the job pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
