package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/dynamiccron"
	"github.com/assaka/daino-jobs/event"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
	mw "github.com/assaka/daino-jobs/middleware"
	"github.com/assaka/daino-jobs/observability"
	"github.com/assaka/daino-jobs/queue"
	"github.com/assaka/daino-jobs/store"
	"github.com/assaka/daino-jobs/worker"
)

const instrumentationName = "github.com/assaka/daino-jobs"

// Engine owns the registries, the worker pool, the cron scheduler and
// the completion bus.
type Engine struct {
	store      store.Store
	jobStore   job.Store
	config     jobs.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *handler.Registry
	mws        []mw.Middleware
	required   []job.Type

	executor   *worker.Executor
	pool       *worker.Pool
	scheduler  *cron.Scheduler
	bus        *event.Bus
	dispatcher *dynamiccron.Dispatcher
	admission  *queue.Manager

	pendingExts    []ext.Extension
	dispatcherOpts []dynamiccron.Option
	typeLimits     map[job.Type]queue.Limits
	storeLimits    map[job.Type]queue.Limits

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg jobs.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger handed to every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithJobStore overrides job persistence for the executor and the pool.
// The aggregate store still serves history, cron and scripts.
func WithJobStore(js job.Store) Option {
	return func(eng *Engine) { eng.jobStore = js }
}

// WithRequiredTypes sets the job types that must have a handler before
// Start succeeds. The default is every known type.
func WithRequiredTypes(types ...job.Type) Option {
	return func(eng *Engine) { eng.required = types }
}

// WithTypeLimits bounds the concurrency and admission rate of a job type.
func WithTypeLimits(t job.Type, l queue.Limits) Option {
	return func(eng *Engine) { eng.typeLimits[t] = l }
}

// WithStoreLimits bounds a job type per store, for example one catalog
// import per store at a time.
func WithStoreLimits(t job.Type, l queue.Limits) Option {
	return func(eng *Engine) { eng.storeLimits[t] = l }
}

// WithDispatcherOptions configures the dynamic_cron dispatcher.
func WithDispatcherOptions(opts ...dynamiccron.Option) Option {
	return func(eng *Engine) { eng.dispatcherOpts = append(eng.dispatcherOpts, opts...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine on s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, jobs.ErrNoStore
	}

	eng := &Engine{
		store:       s,
		jobStore:    s,
		config:      jobs.DefaultConfig(),
		logger:      slog.Default(),
		registry:    handler.NewRegistry(),
		required:    job.Types(),
		typeLimits:  make(map[job.Type]queue.Limits),
		storeLimits: make(map[job.Type]queue.Limits),
	}
	for _, opt := range opts {
		opt(eng)
	}
	logger := eng.logger
	cfg := eng.config

	eng.extensions = ext.NewRegistry(logger)

	// The bus learns about terminal states through the lifecycle hooks.
	eng.bus = event.NewBus(eng.jobStore,
		event.WithDefaultTimeout(cfg.SubJobWaitTimeout),
		event.WithLogger(logger),
	)
	eng.extensions.Register(eng.bus)

	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName + "/observability")
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(meter))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → tenant → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Tenant(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, s, cfg, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
	}
	if len(eng.typeLimits) > 0 || len(eng.storeLimits) > 0 {
		eng.admission = queue.NewManager()
		for t, l := range eng.typeLimits {
			eng.admission.SetTypeLimits(t, l)
		}
		for t, l := range eng.storeLimits {
			eng.admission.SetStoreLimits(t, l)
		}
		poolOpts = append(poolOpts, worker.WithAdmission(eng.admission))
	}
	eng.pool = worker.NewPool(eng.jobStore, eng.executor, eng.extensions, logger, poolOpts...)

	eng.scheduler = cron.NewScheduler(s, eng.enqueueFunc, eng.extensions, logger,
		cron.WithTickInterval(cfg.CronTickInterval),
	)

	dispatcherOpts := []dynamiccron.Option{
		dynamiccron.WithEnqueuer(eng.enqueueFunc),
		dynamiccron.WithWaiter(eng.bus),
		dynamiccron.WithScripts(s),
		dynamiccron.WithSubJobWait(cfg.SubJobWaitTimeout, cfg.AbortCheckInterval),
	}
	eng.dispatcher = dynamiccron.New(s, s, append(dispatcherOpts, eng.dispatcherOpts...)...)
	eng.dispatcher.Register(eng.registry)

	return eng, nil
}

// enqueueFunc adapts Enqueue for the scheduler and the dispatcher.
func (eng *Engine) enqueueFunc(ctx context.Context, t job.Type, payload json.RawMessage, opts ...job.Option) (id.JobID, error) {
	j, err := eng.EnqueueRaw(ctx, t, payload, opts...)
	if err != nil {
		return id.JobID{}, err
	}
	return j.ID, nil
}

// Enqueue marshals payload and enqueues a job of type t.
func (eng *Engine) Enqueue(ctx context.Context, t job.Type, payload any, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", t, err)
	}
	return eng.EnqueueRaw(ctx, t, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, t job.Type, payload json.RawMessage, opts ...job.Option) (*job.Job, error) {
	if !t.Valid() {
		return nil, jobs.Misconfigured("enqueue", fmt.Sprintf("unknown job type %q", t))
	}
	j := job.New(t, payload, opts...)
	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// RunSystem executes a job directly in this process, outside the queue.
// Nothing is persisted and the handler's result is returned.
func (eng *Engine) RunSystem(ctx context.Context, t job.Type, payload json.RawMessage) (any, error) {
	return eng.executor.RunSystem(ctx, t, payload)
}

// Cancel requests cancellation of a job.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	return eng.pool.Cancel(ctx, jobID, reason)
}

// RunCron enqueues a dispatcher job for a cron definition now.
func (eng *Engine) RunCron(ctx context.Context, cronID id.CronID) (id.JobID, error) {
	return eng.scheduler.RunNow(ctx, cronID)
}

// Job returns a job by ID.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// History returns the execution history of a job, oldest first.
func (eng *Engine) History(ctx context.Context, jobID id.JobID) ([]*history.Entry, error) {
	if _, err := eng.jobStore.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return eng.store.ListHistory(ctx, jobID)
}

// Start validates the handler registry, then starts the cron scheduler
// and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.registry.Require(eng.required...); err != nil {
		return err
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	eng.logger.Info("job engine started",
		slog.Int("concurrency", eng.config.Concurrency),
		slog.Int("handlers", len(eng.registry.Types())),
	)
	return nil
}

// Stop stops the scheduler, then drains the pool within
// ShutdownTimeout.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	return eng.pool.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *handler.Registry { return eng.registry }

// Store returns the aggregate store.
func (eng *Engine) Store() store.Store { return eng.store }

// Bus returns the completion bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Dispatcher returns the dynamic_cron dispatcher.
func (eng *Engine) Dispatcher() *dynamiccron.Dispatcher { return eng.dispatcher }

// Admission returns the admission manager, or nil when no limits were
// configured.
func (eng *Engine) Admission() *queue.Manager { return eng.admission }
