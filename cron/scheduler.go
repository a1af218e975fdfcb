package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// The engine provides the implementation.
type EnqueueFunc func(ctx context.Context, t job.Type, payload json.RawMessage, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, cronName string, cronID id.CronID, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due definitions.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// NextRun computes the first run after from. A one-shot schedule may be
// an RFC 3339 timestamp, which is returned as is.
func NextRun(schedule string, st ScheduleType, from time.Time) (*time.Time, error) {
	if st == ScheduleOnce {
		if at, err := time.Parse(time.RFC3339, schedule); err == nil {
			at = at.UTC()
			return &at, nil
		}
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	next := sched.Next(from)
	return &next, nil
}

// Scheduler fires due definitions on a tick loop by enqueuing dispatcher
// jobs. It runs in a single process; there is no cross-process lock.
type Scheduler struct {
	store   Store
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	store Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		enqueue:      enqueue,
		emitter:      emitter,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		tickInterval: jobs.DefaultConfig().CronTickInterval,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every due definition once. It returns the number fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	due, err := s.store.ListDueCrons(ctx, now)
	if err != nil {
		s.logger.Error("list due crons error", slog.String("error", err.Error()))
		return 0
	}

	fired := 0
	for _, d := range due {
		if !d.Due(now) {
			continue
		}
		if _, err := s.fire(ctx, d, now); err != nil {
			continue
		}
		fired++
	}
	return fired
}

// RunNow enqueues a dispatcher job for a definition immediately, outside
// its schedule. A definition that cannot run fails with
// jobs.ErrInvalidState and its run counter is left alone.
func (s *Scheduler) RunNow(ctx context.Context, cronID id.CronID) (id.JobID, error) {
	d, err := s.store.GetCron(ctx, cronID)
	if err != nil {
		return id.JobID{}, err
	}
	if reason := d.SkipReason(); reason != "" {
		return id.JobID{}, fmt.Errorf("%w: cron %s: %s", jobs.ErrInvalidState, d.ID, reason)
	}
	return s.fire(ctx, d, s.now())
}

func (s *Scheduler) fire(ctx context.Context, d *Definition, now time.Time) (id.JobID, error) {
	payload, err := json.Marshal(Payload{CronJobID: d.ID})
	if err != nil {
		return id.JobID{}, err
	}

	var opts []job.Option
	if d.StoreID != "" {
		opts = append(opts, job.WithStoreID(d.StoreID))
	}
	jobID, err := s.enqueue(ctx, job.TypeDynamicCron, payload, opts...)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", d.Name),
			slog.String("cron_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
		return id.JobID{}, err
	}

	next := s.nextRun(d, now)
	if err := s.store.RecordCronFired(ctx, d.ID, now, next); err != nil {
		s.logger.Error("record cron run error",
			slog.String("cron_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, d.Name, d.ID, jobID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", d.Name),
		slog.String("cron_id", d.ID.String()),
		slog.String("job_type", string(d.JobType)),
		slog.String("job_id", jobID.String()),
	)
	return jobID, nil
}

// nextRun returns nil for one-shot definitions and on parse failure,
// which stops further firing.
func (s *Scheduler) nextRun(d *Definition, now time.Time) *time.Time {
	if d.ScheduleType == ScheduleOnce {
		return nil
	}
	sched, err := s.getOrParseSchedule(d.Schedule)
	if err != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", d.Name),
			slog.String("schedule", d.Schedule),
			slog.String("error", err.Error()),
		)
		return nil
	}
	next := sched.Next(now)
	return &next
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
