package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// Admission decides whether a claimed job may run now. The pool calls
// Acquire after claiming and Release once the attempt has finished.
type Admission interface {
	Acquire(j *job.Job) bool
	Release(j *job.Job)
}

// Pool manages a set of concurrent worker goroutines that claim jobs
// and execute them through the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	types        []job.Type
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	admission    Admission

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[id.JobID]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithTypes restricts the pool to the given job types. By default the
// pool claims every type registered with the executor at Start.
func WithTypes(types ...job.Type) PoolOption {
	return func(p *Pool) { p.types = types }
}

// WithAdmission sets per-type and per-store admission control.
func WithAdmission(a Admission) PoolOption {
	return func(p *Pool) { p.admission = a }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	cfg := jobs.DefaultConfig()
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	if len(p.types) == 0 {
		p.types = p.executor.registry.Types()
	}

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Int("types", len(p.types)),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If ctx ends first, the contexts of active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	p.extensions.EmitShutdown(ctx)
	return nil
}

// Cancel requests cancellation of a job. Pending jobs are cancelled in
// the store outright. Running jobs move to cancelling; when the attempt
// runs in this pool it is also flagged so the handler stops at its next
// checkpoint.
func (p *Pool) Cancel(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	j, err := p.store.RequestCancel(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}
	switch j.State {
	case job.StateCancelled:
		entry := history.NewEntry(j.ID, history.KindCancelled)
		entry.Message = reason
		p.executor.record(ctx, entry, j)
		p.extensions.EmitJobCancelled(ctx, j, reason)
	case job.StateCancelling:
		p.executor.Abort(jobID, reason)
	}
	p.logger.Info("job cancellation requested",
		slog.String("job_id", jobID.String()),
		slog.String("state", string(j.State)),
		slog.String("reason", reason),
	)
	return j, nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		// A pool without handlers claims nothing.
		if len(p.types) == 0 {
			p.sleep()
			continue
		}

		j, err := p.store.ClaimNextJob(context.Background(), p.types, p.workerID)
		if err != nil {
			if !errors.Is(err, jobs.ErrStoreClosed) {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}
		if j == nil {
			p.sleep()
			continue
		}

		if p.admission != nil && !p.admission.Acquire(j) {
			p.requeue(j)
			p.sleep()
			continue
		}

		p.runOne(j)

		if p.admission != nil {
			p.admission.Release(j)
		}
	}
}

func (p *Pool) runOne(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(j.ID, cancel)
	defer p.untrackJob(j.ID)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution ended with error",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// requeue returns a job that failed admission to pending with a short delay.
func (p *Pool) requeue(j *job.Job) {
	j.State = job.StatePending
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.ScheduledAt = time.Now().UTC().Add(p.pollInterval)
	j.Touch()
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to requeue throttled job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID id.JobID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
