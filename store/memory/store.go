// Package memory is an in-memory implementation of store.Store. It is
// safe for concurrent access and intended for tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/backoff"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/importstats"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/plugin"
	"github.com/assaka/daino-jobs/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by one lock. Records are
// copied on the way in and out so callers never share memory with it.
type Store struct {
	mu     sync.RWMutex
	closed bool

	jobs       map[id.JobID]*job.Job
	history    map[id.JobID][]*history.Entry
	crons      map[id.CronID]*cron.Definition
	executions map[id.CronID][]*cron.Execution
	stats      []*importstats.Statistics
	scripts    map[id.ScriptID]*plugin.Script

	retry backoff.Strategy
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRetryBackoff sets the delay before a retried job becomes claimable.
// The default schedules retries immediately.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(m *Store) { m.retry = s }
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		jobs:       make(map[id.JobID]*job.Job),
		history:    make(map[id.JobID][]*history.Entry),
		crons:      make(map[id.CronID]*cron.Definition),
		executions: make(map[id.CronID][]*cron.Execution),
		scripts:    make(map[id.ScriptID]*plugin.Script),
		retry:      backoff.Immediate,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return jobs.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Claims fail afterwards.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return jobs.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

// ClaimNextJob claims the highest-priority due pending job.
func (m *Store) ClaimNextJob(_ context.Context, types []job.Type, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, jobs.ErrStoreClosed
	}

	typeSet := make(map[job.Type]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	now := m.now()
	var best *job.Job
	for _, j := range m.jobs {
		if j.State != job.StatePending || j.ScheduledAt.After(now) {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[j.Type]; !ok {
				continue
			}
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = job.StateRunning
	best.WorkerID = workerID
	started := now
	best.StartedAt = &started
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

// claimsBefore orders by priority desc, then ScheduledAt asc.
func claimsBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ScheduledAt.Before(b.ScheduledAt)
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// JobState returns the current state of a job.
func (m *Store) JobState(_ context.Context, jobID id.JobID) (job.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return "", jobs.ErrJobNotFound
	}
	return j.State, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return jobs.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = m.now()
	m.jobs[j.ID] = &cp
	return nil
}

// RequestCancel cancels a pending job or flags a running one.
func (m *Store) RequestCancel(_ context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}

	now := m.now()
	switch j.State {
	case job.StatePending:
		j.State = job.StateCancelled
		j.CancelledAt = &now
	case job.StateRunning:
		j.State = job.StateCancelling
	case job.StateCancelling:
	default:
		return nil, jobs.ErrInvalidState
	}
	j.CancelReason = reason
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

// ScheduleRetry inserts the next attempt of a failed job.
func (m *Store) ScheduleRetry(_ context.Context, failed *job.Job) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[failed.ID]; !ok {
		return nil, jobs.ErrJobNotFound
	}
	next := job.NextAttempt(failed)
	next.ScheduledAt = m.now().Add(m.retry.Delay(next.RetryCount))
	cp := *next
	m.jobs[next.ID] = &cp
	return next, nil
}

// ListJobs returns jobs matching opts, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !matches(j, opts) {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if matches(j, opts) {
			n++
		}
	}
	return n, nil
}

func matches(j *job.Job, opts job.ListOpts) bool {
	if opts.State != "" && j.State != opts.State {
		return false
	}
	if opts.Type != "" && j.Type != opts.Type {
		return false
	}
	if opts.StoreID != "" && j.StoreID != opts.StoreID {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────
// History Store
// ──────────────────────────────────────────────────

// RecordHistory appends an entry.
func (m *Store) RecordHistory(_ context.Context, e *history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.history[e.JobID] = append(m.history[e.JobID], &cp)
	return nil
}

// ListHistory returns the entries of a job in insertion order.
func (m *Store) ListHistory(_ context.Context, jobID id.JobID) ([]*history.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[jobID]
	out := make([]*history.Entry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// CreateCron persists a new definition.
func (m *Store) CreateCron(_ context.Context, d *cron.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.crons {
		if existing.ID == d.ID || (existing.Name == d.Name && existing.StoreID == d.StoreID) {
			return jobs.ErrDuplicateCron
		}
	}
	cp := *d
	m.crons[d.ID] = &cp
	return nil
}

// GetCron retrieves a definition by ID.
func (m *Store) GetCron(_ context.Context, cronID id.CronID) (*cron.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.crons[cronID]
	if !ok {
		return nil, jobs.ErrCronNotFound
	}
	cp := *d
	return &cp, nil
}

// ListCrons returns definitions ordered by name.
func (m *Store) ListCrons(_ context.Context, storeID string) ([]*cron.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cron.Definition, 0, len(m.crons))
	for _, d := range m.crons {
		if storeID != "" && d.StoreID != storeID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// ListDueCrons returns runnable definitions due at now.
func (m *Store) ListDueCrons(_ context.Context, now time.Time) ([]*cron.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*cron.Definition
	for _, d := range m.crons {
		if !d.Due(now) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextRunAt.Before(*out[k].NextRunAt) })
	return out, nil
}

// UpdateCron persists changes to a definition.
func (m *Store) UpdateCron(_ context.Context, d *cron.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.crons[d.ID]; !ok {
		return jobs.ErrCronNotFound
	}
	cp := *d
	cp.UpdatedAt = m.now()
	m.crons[d.ID] = &cp
	return nil
}

// RecordCronFired increments the run counter.
func (m *Store) RecordCronFired(_ context.Context, cronID id.CronID, at time.Time, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.crons[cronID]
	if !ok {
		return jobs.ErrCronNotFound
	}
	d.MarkFired(at, next)
	return nil
}

// RecordCronOutcome updates the failure counters.
func (m *Store) RecordCronOutcome(_ context.Context, cronID id.CronID, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.crons[cronID]
	if !ok {
		return jobs.ErrCronNotFound
	}
	if success {
		d.MarkSucceeded()
	} else {
		d.MarkFailed()
	}
	return nil
}

// DeleteCron removes a definition.
func (m *Store) DeleteCron(_ context.Context, cronID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.crons[cronID]; !ok {
		return jobs.ErrCronNotFound
	}
	delete(m.crons, cronID)
	delete(m.executions, cronID)
	return nil
}

// CreateExecution stores a new execution record.
func (m *Store) CreateExecution(_ context.Context, e *cron.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.executions[e.CronID] = append(m.executions[e.CronID], &cp)
	return nil
}

// UpdateExecution replaces an execution record.
func (m *Store) UpdateExecution(_ context.Context, e *cron.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.executions[e.CronID] {
		if existing.ID == e.ID {
			cp := *e
			m.executions[e.CronID][i] = &cp
			return nil
		}
	}
	return jobs.ErrCronNotFound
}

// ListExecutions returns the newest runs of a definition first.
func (m *Store) ListExecutions(_ context.Context, cronID id.CronID, limit int) ([]*cron.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := m.executions[cronID]
	out := make([]*cron.Execution, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		cp := *runs[i]
		out = append(out, &cp)
	}
	return paginate(out, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Import statistics and scripts
// ──────────────────────────────────────────────────

// RecordStatistics appends an import statistics record.
func (m *Store) RecordStatistics(_ context.Context, s *importstats.Statistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.Errors = append([]string(nil), s.Errors...)
	m.stats = append(m.stats, &cp)
	return nil
}

// ListStatistics returns the newest records first.
func (m *Store) ListStatistics(_ context.Context, storeID, integration string, limit int) ([]*importstats.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*importstats.Statistics
	for i := len(m.stats) - 1; i >= 0; i-- {
		s := m.stats[i]
		if storeID != "" && s.StoreID != storeID {
			continue
		}
		if integration != "" && s.Integration != integration {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return paginate(out, 0, limit), nil
}

// SaveScript inserts or replaces a script.
func (m *Store) SaveScript(_ context.Context, s *plugin.Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.UpdatedAt = m.now()
	m.scripts[s.ID] = &cp
	return nil
}

// GetScript returns a script owned by storeID.
func (m *Store) GetScript(_ context.Context, storeID string, scriptID id.ScriptID) (*plugin.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scripts[scriptID]
	if !ok || s.StoreID != storeID {
		return nil, jobs.ErrScriptNotFound
	}
	cp := *s
	return &cp, nil
}
