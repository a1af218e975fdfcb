package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/job"
)

// Func executes one job attempt. The returned value is serialized into
// the job's result column.
type Func func(hc *Context) (any, error)

// Context is the per-attempt state handed to a handler: the job and its
// bound payload, progress, and the cooperative abort flag. A Context is
// never shared between attempts.
type Context struct {
	ctx context.Context
	*attempt
}

type attempt struct {
	job    *job.Job
	bound  any
	states job.StateReader
	hist   history.Store
	events *ext.Registry
	logger *slog.Logger
	now    func() time.Time

	abortEvery time.Duration
	persist    *rate.Sometimes

	aborted atomic.Bool

	mu          sync.Mutex
	progress    float64
	message     string
	abortReason string
	lastCheck   time.Time
}

// Option configures a Context.
type Option func(*attempt)

// WithStateReader sets the authoritative job state source for CheckAbort.
func WithStateReader(s job.StateReader) Option {
	return func(a *attempt) { a.states = s }
}

// WithHistory sets the store progress entries are appended to.
func WithHistory(s history.Store) Option {
	return func(a *attempt) { a.hist = s }
}

// WithEvents sets the extension registry that receives progress and
// abort events.
func WithEvents(r *ext.Registry) Option {
	return func(a *attempt) { a.events = r }
}

// WithLogger sets the base logger. Job attributes are added to it.
func WithLogger(l *slog.Logger) Option {
	return func(a *attempt) { a.logger = l }
}

// WithAbortCheckInterval bounds how often CheckAbort reads the store.
func WithAbortCheckInterval(d time.Duration) Option {
	return func(a *attempt) { a.abortEvery = d }
}

// WithProgressPersistInterval bounds how often progress is written to
// history. Zero persists every update.
func WithProgressPersistInterval(d time.Duration) Option {
	return func(a *attempt) {
		if d <= 0 {
			a.persist = &rate.Sometimes{Every: 1}
			return
		}
		a.persist = &rate.Sometimes{Interval: d}
	}
}

// WithClock overrides the time source used for abort-check gating.
func WithClock(now func() time.Time) Option {
	return func(a *attempt) { a.now = now }
}

// WithBound attaches an already decoded payload.
func WithBound(v any) Option {
	return func(a *attempt) { a.bound = v }
}

// NewContext builds the context for one attempt of j.
func NewContext(ctx context.Context, j *job.Job, opts ...Option) *Context {
	cfg := jobs.DefaultConfig()
	a := &attempt{
		job:        j,
		logger:     slog.Default(),
		now:        time.Now,
		abortEvery: cfg.AbortCheckInterval,
		persist:    &rate.Sometimes{Interval: cfg.ProgressPersistInterval},
		progress:   j.Progress,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.events == nil {
		a.events = ext.NewRegistry(a.logger)
	}
	a.logger = a.logger.With(
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
	)
	if j.StoreID != "" {
		a.logger = a.logger.With(slog.String("store_id", j.StoreID))
	}
	return &Context{ctx: ctx, attempt: a}
}

// Context returns the context.Context for I/O made by the handler.
func (c *Context) Context() context.Context { return c.ctx }

// WithContext returns a Context sharing c's attempt state but carrying ctx.
func (c *Context) WithContext(ctx context.Context) *Context {
	return &Context{ctx: ctx, attempt: c.attempt}
}

// Job returns the job being executed. Handlers must treat it as read-only.
func (c *Context) Job() *job.Job { return c.job }

// StoreID returns the tenant the job is scoped to.
func (c *Context) StoreID() string { return c.job.StoreID }

// Logger returns a logger carrying job_id, job_type and store_id.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Events returns the registry lifecycle events are emitted to.
func (c *Context) Events() *ext.Registry { return c.events }

// Bound returns the decoded payload attached by the registry, or nil.
func (c *Context) Bound() any { return c.bound }

// Payload returns the raw JSON payload.
func (c *Context) Payload() json.RawMessage { return c.job.Payload }

// PayloadMap decodes the payload as a JSON object. An empty payload
// yields an empty map.
func (c *Context) PayloadMap() (map[string]any, error) {
	m := map[string]any{}
	if len(c.job.Payload) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(c.job.Payload, &m); err != nil {
		return nil, jobs.InvalidPayload("payload is not a JSON object", err)
	}
	return m, nil
}

// RequiredPayload returns the value of a top-level payload field, failing
// with KindMissingPayloadField when it is absent or null.
func (c *Context) RequiredPayload(field string) (any, error) {
	m, err := c.PayloadMap()
	if err != nil {
		return nil, err
	}
	v, ok := m[field]
	if !ok || v == nil {
		return nil, jobs.MissingField(field)
	}
	return v, nil
}

// UpdateProgress records progress clamped to [0,100]. It is a no-op once
// the attempt has been aborted. Events are emitted on every call; history
// is written for queued jobs only, throttled to the persist interval.
// Monotonicity is not enforced.
func (c *Context) UpdateProgress(percent float64, message string) {
	if c.aborted.Load() {
		return
	}
	p := Clamp(percent)

	c.mu.Lock()
	c.progress = p
	c.message = message
	c.job.Progress = p
	c.job.Message = message
	c.mu.Unlock()

	c.events.EmitJobProgress(c.ctx, c.job, p, message)

	if c.job.ID.IsSynthetic() || c.hist == nil {
		return
	}
	c.persist.Do(func() {
		e := history.NewEntry(c.job.ID, history.KindProgress)
		e.Progress = p
		e.Message = message
		if err := c.hist.RecordHistory(c.ctx, e); err != nil {
			c.logger.Warn("record progress failed", slog.String("error", err.Error()))
		}
	})
}

// Progress returns the last recorded percentage and message.
func (c *Context) Progress() (float64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress, c.message
}

// Clamp bounds p to [0,100]. NaN maps to 0.
func Clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

// Aborted reports whether the local abort flag is set.
func (c *Context) Aborted() bool { return c.aborted.Load() }

// CheckAbort returns a cancelled error when the attempt must stop. Once
// the local flag is set it never touches the store again. Otherwise it
// reads the authoritative job state at most once per abort-check
// interval. Synthetic jobs are only cancelled locally.
func (c *Context) CheckAbort() error {
	if c.aborted.Load() {
		return jobs.Cancelled(c.reason())
	}
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if c.states == nil || c.job.ID.IsSynthetic() {
		return nil
	}

	c.mu.Lock()
	now := c.now()
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.abortEvery {
		c.mu.Unlock()
		return nil
	}
	c.lastCheck = now
	c.mu.Unlock()

	state, err := c.states.JobState(c.ctx, c.job.ID)
	if err != nil {
		c.logger.Warn("abort check failed", slog.String("error", err.Error()))
		return nil
	}
	if !state.AbortRequested() {
		return nil
	}
	return c.Abort("cancellation requested")
}

// Abort sets the local flag, emits the aborted event and returns the
// cancelled error for the handler to propagate.
func (c *Context) Abort(reason string) error {
	if c.flag(reason) {
		c.logger.Info("job aborted", slog.String("reason", reason))
		c.events.EmitJobAborted(c.ctx, c.job, reason)
	}
	return jobs.Cancelled(c.reason())
}

// RequestAbort sets the local flag without raising. The handler observes
// it at its next CheckAbort. It is safe to call from any goroutine.
func (c *Context) RequestAbort(reason string) {
	if c.flag(reason) {
		c.events.EmitJobAborted(c.ctx, c.job, reason)
	}
}

// flag sets the abort flag and reports whether this call set it.
func (c *Context) flag(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted.Load() {
		return false
	}
	c.abortReason = reason
	c.aborted.Store(true)
	return true
}

func (c *Context) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortReason
}
