// Package event notifies waiters when jobs reach a terminal state. It
// replaces polling of sub-job status: the Bus is registered as an
// extension, so the worker's lifecycle hooks deliver terminal
// notifications to it directly.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// Getter reads a job by ID.
type Getter interface {
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

var (
	_ ext.JobCompleted = (*Bus)(nil)
	_ ext.JobFailed    = (*Bus)(nil)
	_ ext.JobCancelled = (*Bus)(nil)
	_ ext.JobRetrying  = (*Bus)(nil)
)

// Bus fans terminal job notifications in to waiters.
type Bus struct {
	store   Getter
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	waiters map[id.JobID][]chan *job.Job
}

// Option configures a Bus.
type Option func(*Bus)

// WithDefaultTimeout sets the wait used when WaitForTerminal gets a
// timeout of zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Bus) { b.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates a bus that consults store for jobs already finished.
func NewBus(store Getter, opts ...Option) *Bus {
	b := &Bus{
		store:   store,
		timeout: jobs.DefaultConfig().SubJobWaitTimeout,
		logger:  slog.Default(),
		waiters: make(map[id.JobID][]chan *job.Job),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Bus) Name() string { return "event-bus" }

// WaitForTerminal blocks until jobID, or the retry attempt that replaced
// it, is completed, failed or cancelled. It returns the terminal job.
// The wait ends with a KindTimeout error after timeout, or ctx.Err()
// when ctx ends first.
func (b *Bus) WaitForTerminal(ctx context.Context, jobID id.JobID, timeout time.Duration) (*job.Job, error) {
	if timeout <= 0 {
		timeout = b.timeout
	}

	// Subscribe before reading the store so a transition in between is
	// not lost.
	ch := b.subscribe(jobID)
	defer b.unsubscribe(jobID, ch)

	j, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State.Terminal() {
		return j, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case done := <-ch:
		return done, nil
	case <-timer.C:
		return nil, jobs.TimedOut("wait for job " + jobID.String())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of registered waiters.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, list := range b.waiters {
		n += len(list)
	}
	return n
}

// OnJobCompleted implements ext.JobCompleted.
func (b *Bus) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	b.notify(j)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (b *Bus) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	b.notify(j)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (b *Bus) OnJobCancelled(_ context.Context, j *job.Job, _ string) error {
	b.notify(j)
	return nil
}

// OnJobRetrying moves waiters of the failed attempt to the next one.
func (b *Bus) OnJobRetrying(_ context.Context, failed, next *job.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if list, ok := b.waiters[failed.ID]; ok {
		b.waiters[next.ID] = append(b.waiters[next.ID], list...)
		delete(b.waiters, failed.ID)
		b.logger.Debug("waiters follow retry",
			slog.String("job_id", failed.ID.String()),
			slog.String("next_job_id", next.ID.String()),
			slog.Int("waiters", len(list)),
		)
	}
	return nil
}

func (b *Bus) subscribe(jobID id.JobID) chan *job.Job {
	ch := make(chan *job.Job, 1)
	b.mu.Lock()
	b.waiters[jobID] = append(b.waiters[jobID], ch)
	b.mu.Unlock()
	return ch
}

// unsubscribe removes ch wherever it is registered; a retry may have
// moved it to another job ID.
func (b *Bus) unsubscribe(jobID id.JobID, ch chan *job.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remove(jobID, ch) {
		return
	}
	for key := range b.waiters {
		if b.remove(key, ch) {
			return
		}
	}
}

func (b *Bus) remove(key id.JobID, ch chan *job.Job) bool {
	list := b.waiters[key]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(b.waiters, key)
			} else {
				b.waiters[key] = list
			}
			return true
		}
	}
	return false
}

func (b *Bus) notify(j *job.Job) {
	b.mu.Lock()
	list := b.waiters[j.ID]
	delete(b.waiters, j.ID)
	b.mu.Unlock()

	for _, ch := range list {
		cp := *j
		ch <- &cp
	}
}
