// Package worker runs jobs. The Executor drives one attempt through
// start, execution and its final state; the Pool claims jobs from the
// store and hands them to the Executor.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/middleware"
)

// Executor runs a single job attempt through middleware and its handler,
// then persists the final state, history and retry scheduling.
type Executor struct {
	registry   *handler.Registry
	extensions *ext.Registry
	store      job.Store
	history    history.Store
	config     jobs.Config
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time

	activeMu sync.Mutex
	active   map[id.JobID]*handler.Context
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *handler.Registry,
	extensions *ext.Registry,
	store job.Store,
	hist history.Store,
	cfg jobs.Config,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		history:    hist,
		config:     cfg,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		active:     make(map[id.JobID]*handler.Context),
	}
}

// Execute runs one claimed attempt of j, which must already be running.
// The returned error is the handler's error, or a persistence error.
//
// Outcomes:
//   - success: completed, result stored, completed history
//   - cancelled error: cancelled, reason stored, cancelled history
//   - other error: failed, and when retry budget remains and the error is
//     retriable, a new pending attempt is scheduled
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	_, err := e.run(ctx, j)
	return err
}

// RunSystem executes a job directly, outside the queue. The job gets a
// synthetic ID, nothing is persisted, and the result is returned.
func (e *Executor) RunSystem(ctx context.Context, t job.Type, payload json.RawMessage) (any, error) {
	j := job.NewSystem(t, payload)
	j.State = job.StateRunning
	return e.run(ctx, j)
}

func (e *Executor) run(ctx context.Context, j *job.Job) (any, error) {
	start := e.now()
	j.StartedAt = &start
	j.State = job.StateRunning
	e.record(ctx, history.NewEntry(j.ID, history.KindStarted), j)
	e.extensions.EmitJobStarted(ctx, j)

	out, err := e.invoke(ctx, j)
	elapsed := e.now().Sub(start)

	// The final state is written even when the attempt's context was
	// cancelled, e.g. by the pool's shutdown deadline.
	ctx = context.WithoutCancel(ctx)
	switch {
	case err == nil:
		return out, e.handleSuccess(ctx, j, out, elapsed)
	case jobs.IsCancelled(err):
		return nil, e.handleCancelled(ctx, j, err, elapsed)
	default:
		return nil, e.handleFailure(ctx, j, err, elapsed)
	}
}

// invoke resolves the handler, validates the payload and runs the chain.
// Payload errors surface before the handler is called.
func (e *Executor) invoke(ctx context.Context, j *job.Job) (any, error) {
	entry, ok := e.registry.Get(j.Type)
	if !ok {
		return nil, jobs.Misconfigured("execute", fmt.Sprintf("no handler registered for job type %q", j.Type))
	}

	var bound any
	if entry.Decode != nil {
		v, err := entry.Decode(j.Payload)
		if err != nil {
			return nil, err
		}
		bound = v
	}

	hc := handler.NewContext(ctx, j,
		handler.WithBound(bound),
		handler.WithStateReader(e.store),
		handler.WithHistory(e.history),
		handler.WithEvents(e.extensions),
		handler.WithLogger(e.logger),
		handler.WithAbortCheckInterval(e.config.AbortCheckInterval),
		handler.WithProgressPersistInterval(e.config.ProgressPersistInterval),
	)
	e.track(j.ID, hc)
	defer e.untrack(j.ID)

	return e.mw(hc, entry.Run)
}

// Abort flags the in-process attempt of jobID, if any. The handler
// observes it at its next CheckAbort without a store read.
func (e *Executor) Abort(jobID id.JobID, reason string) bool {
	e.activeMu.Lock()
	hc, ok := e.active[jobID]
	e.activeMu.Unlock()
	if ok {
		hc.RequestAbort(reason)
	}
	return ok
}

func (e *Executor) track(jobID id.JobID, hc *handler.Context) {
	e.activeMu.Lock()
	e.active[jobID] = hc
	e.activeMu.Unlock()
}

func (e *Executor) untrack(jobID id.JobID) {
	e.activeMu.Lock()
	delete(e.active, jobID)
	e.activeMu.Unlock()
}

// handleSuccess marks the job completed and stores its result.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, out any, elapsed time.Duration) error {
	if out != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return e.handleFailure(ctx, j, fmt.Errorf("encode result: %w", err), elapsed)
		}
		j.Result = raw
	}

	now := e.now()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.Touch()
	if err := e.persist(ctx, j); err != nil {
		return err
	}

	entry := history.NewEntry(j.ID, history.KindCompleted)
	entry.Result = j.Result
	entry.Duration = elapsed
	entry.Progress = j.Progress
	e.record(ctx, entry, j)

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleCancelled marks the job cancelled. Cancelled jobs are never
// retried.
func (e *Executor) handleCancelled(ctx context.Context, j *job.Job, cause error, elapsed time.Duration) error {
	reason := cancelReason(cause)
	now := e.now()
	j.State = job.StateCancelled
	j.CancelledAt = &now
	j.CancelReason = reason
	j.Touch()
	if err := e.persist(ctx, j); err != nil {
		return err
	}

	entry := history.NewEntry(j.ID, history.KindCancelled)
	entry.Message = reason
	entry.Duration = elapsed
	entry.Progress = j.Progress
	e.record(ctx, entry, j)

	e.extensions.EmitJobCancelled(ctx, j, reason)
	return cause
}

// handleFailure marks the attempt failed and schedules the next one when
// the budget and the error allow it.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, cause error, elapsed time.Duration) error {
	now := e.now()
	j.State = job.StateFailed
	j.FailedAt = &now
	j.LastError = cause.Error()
	j.Touch()
	if err := e.persist(ctx, j); err != nil {
		return err
	}

	entry := history.NewEntry(j.ID, history.KindFailed)
	entry.Error = j.LastError
	entry.Duration = elapsed
	entry.Progress = j.Progress
	e.record(ctx, entry, j)

	// The retry is announced before the failure so that waiters can
	// follow the job to its next attempt.
	if !j.ID.IsSynthetic() && j.CanRetry() && jobs.Retriable(cause) {
		e.scheduleRetry(ctx, j)
	}
	e.extensions.EmitJobFailed(ctx, j, cause)
	return cause
}

// scheduleRetry asks the store for the next attempt. The store owns the
// retry delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job) {
	next, err := e.store.ScheduleRetry(ctx, j)
	if err != nil {
		e.logger.Error("failed to schedule retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	entry := history.NewEntry(j.ID, history.KindRetryScheduled)
	entry.Attempt = next.RetryCount
	entry.NextJobID = next.ID
	entry.NextRunAt = next.ScheduledAt
	e.record(ctx, entry, j)

	e.extensions.EmitJobRetrying(ctx, j, next)
	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("next_job_id", next.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", next.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Time("scheduled_at", next.ScheduledAt),
	)
}

func (e *Executor) persist(ctx context.Context, j *job.Job) error {
	if j.ID.IsSynthetic() {
		return nil
	}
	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to persist job state",
			slog.String("job_id", j.ID.String()),
			slog.String("state", string(j.State)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	return nil
}

// record appends a history entry for queued jobs. History failures are
// logged and never fail the job.
func (e *Executor) record(ctx context.Context, entry *history.Entry, j *job.Job) {
	if j.ID.IsSynthetic() || e.history == nil {
		return
	}
	if err := e.history.RecordHistory(ctx, entry); err != nil {
		e.logger.Warn("failed to record job history",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", string(entry.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func cancelReason(err error) string {
	var je *jobs.Error
	if errors.As(err, &je) && je.Msg != "" {
		return je.Msg
	}
	return "cancelled"
}
