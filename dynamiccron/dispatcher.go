// Package dynamiccron implements the dispatcher job: it loads a stored
// cron definition, gates it with CanRun, and routes it to one of a fixed
// set of strategies by job_type.
package dynamiccron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/httpclient"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/plugin"
	"github.com/assaka/daino-jobs/script"
	"github.com/assaka/daino-jobs/tenant"
)

// Waiter blocks until a job reaches a terminal state. *event.Bus
// satisfies it.
type Waiter interface {
	WaitForTerminal(ctx context.Context, jobID id.JobID, timeout time.Duration) (*job.Job, error)
}

// Dispatcher is the dynamic_cron handler.
type Dispatcher struct {
	crons cron.Store
	execs cron.ExecutionStore

	http       *httpclient.Client
	guard      *Guard
	mailer     Mailer
	enqueue    cron.EnqueueFunc
	waiter     Waiter
	plugins    *plugin.Registry
	scripts    plugin.ScriptStore
	limits     script.Limits
	apiBaseURL string
	waitSlice  time.Duration
	waitMax    time.Duration
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client for webhook, api_call and script fetches.
func WithHTTPClient(c *httpclient.Client) Option { return func(d *Dispatcher) { d.http = c } }

// WithTenants sets the tenant database resolver used by database_query,
// cleanup and script db_query steps.
func WithTenants(r tenant.Resolver) Option { return func(d *Dispatcher) { d.guard.resolver = r } }

// WithAllowedTables replaces the default table allow-list.
func WithAllowedTables(tables ...string) Option {
	return func(d *Dispatcher) { d.guard.tables = tableSet(tables) }
}

// WithMailer enables the email kind.
func WithMailer(m Mailer) Option { return func(d *Dispatcher) { d.mailer = m } }

// WithEnqueuer enables fan-out kinds and script enqueue_job steps.
func WithEnqueuer(e cron.EnqueueFunc) Option { return func(d *Dispatcher) { d.enqueue = e } }

// WithWaiter enables wait_for_completion on fan-out kinds.
func WithWaiter(w Waiter) Option { return func(d *Dispatcher) { d.waiter = w } }

// WithPlugins sets the registry of native plugin methods.
func WithPlugins(r *plugin.Registry) Option { return func(d *Dispatcher) { d.plugins = r } }

// WithScripts sets the store of record for tenant scripts.
func WithScripts(s plugin.ScriptStore) Option { return func(d *Dispatcher) { d.scripts = s } }

// WithScriptLimits bounds script runs.
func WithScriptLimits(l script.Limits) Option { return func(d *Dispatcher) { d.limits = l } }

// WithAPIBaseURL sets the apiBaseUrl visible to scripts.
func WithAPIBaseURL(u string) Option { return func(d *Dispatcher) { d.apiBaseURL = u } }

// WithSubJobWait sets the default and the abort-check slice of
// wait_for_completion.
func WithSubJobWait(max, slice time.Duration) Option {
	return func(d *Dispatcher) { d.waitMax, d.waitSlice = max, slice }
}

// New creates a Dispatcher.
func New(crons cron.Store, execs cron.ExecutionStore, opts ...Option) *Dispatcher {
	cfg := jobs.DefaultConfig()
	d := &Dispatcher{
		crons:     crons,
		execs:     execs,
		http:      httpclient.New(),
		guard:     &Guard{tables: tableSet(DefaultAllowedTables)},
		limits:    script.DefaultLimits(),
		waitMax:   cfg.SubJobWaitTimeout,
		waitSlice: cfg.AbortCheckInterval,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Guard returns the allow-list guard that runs tenant table access. It
// also serves the cleanup task.
func (d *Dispatcher) Guard() *Guard { return d.guard }

// Register adds the dispatcher to a handler registry.
func (d *Dispatcher) Register(r *handler.Registry) {
	handler.Register(r, handler.NewDefinition(job.TypeDynamicCron, d.Handle))
}

// Handle runs one dispatch of the definition named by p.
//
// A definition that may not run yields {"skipped": true} and no error.
// Otherwise an execution record is written, the kind is dispatched, and
// the record and the definition counters reflect the outcome. Errors are
// never retried at this layer.
func (d *Dispatcher) Handle(hc *handler.Context, p cron.Payload) (any, error) {
	ctx := hc.Context()
	def, err := d.crons.GetCron(ctx, p.CronJobID)
	if err != nil {
		if errors.Is(err, jobs.ErrCronNotFound) {
			return nil, jobs.Misconfigured("dynamic cron", fmt.Sprintf("definition %s not found", p.CronJobID))
		}
		return nil, err
	}
	logger := hc.Logger().With(
		slog.String("cron_id", def.ID.String()),
		slog.String("cron_name", def.Name),
		slog.String("cron_job_type", string(def.JobType)),
	)

	if reason := def.SkipReason(); reason != "" {
		logger.Info("cron definition skipped", slog.String("reason", reason))
		exec := cron.NewExecution(def, hc.Job().ID)
		out := map[string]any{"skipped": true, "reason": reason, "cron_job_id": def.ID.String()}
		exec.Finish(cron.StatusSkipped, mustJSON(out), nil)
		if err := d.execs.CreateExecution(ctx, exec); err != nil {
			logger.Warn("failed to record skipped execution", slog.String("error", err.Error()))
		}
		return out, nil
	}

	exec := cron.NewExecution(def, hc.Job().ID)
	if err := d.execs.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create cron execution: %w", err)
	}

	hc.UpdateProgress(5, "dispatching "+string(def.JobType))
	var out any
	if err = hc.CheckAbort(); err == nil {
		out, err = d.dispatch(hc, def)
	}

	if err != nil {
		exec.Finish(cron.StatusFailed, nil, err)
		d.finish(ctx, logger, def, exec, !jobs.IsCancelled(err))
		logger.Warn("cron dispatch failed", slog.String("error", err.Error()))
		return nil, err
	}

	exec.Finish(cron.StatusSuccess, mustJSON(out), nil)
	d.finish(ctx, logger, def, exec, false)
	if err := d.crons.RecordCronOutcome(ctx, def.ID, true); err != nil {
		logger.Warn("failed to record cron success", slog.String("error", err.Error()))
	}
	hc.UpdateProgress(100, "dispatched "+string(def.JobType))
	return out, nil
}

// finish persists the execution record and, for counted failures, the
// failure streak. Bookkeeping errors are logged, not returned.
func (d *Dispatcher) finish(ctx context.Context, logger *slog.Logger, def *cron.Definition, exec *cron.Execution, countFailure bool) {
	if err := d.execs.UpdateExecution(ctx, exec); err != nil {
		logger.Warn("failed to update cron execution", slog.String("error", err.Error()))
	}
	if countFailure {
		if err := d.crons.RecordCronOutcome(ctx, def.ID, false); err != nil {
			logger.Warn("failed to record cron failure", slog.String("error", err.Error()))
		}
	}
}

func (d *Dispatcher) dispatch(hc *handler.Context, def *cron.Definition) (any, error) {
	switch def.JobType {
	case cron.JobTypeWebhook, cron.JobTypeAPICall:
		return d.runHTTP(hc, def)
	case cron.JobTypeEmail:
		return d.runEmail(hc, def)
	case cron.JobTypeDatabaseQuery:
		return d.runDatabaseQuery(hc, def)
	case cron.JobTypeCleanup:
		return d.runCleanup(hc, def)
	case cron.JobTypeAkeneoImport, cron.JobTypeShopifySync, cron.JobTypeTokenRefresh, cron.JobTypeSystemJob:
		return d.runFanOut(hc, def)
	case cron.JobTypePluginJob:
		return d.runPlugin(hc, def)
	default:
		return nil, jobs.Misconfigured("dynamic cron", fmt.Sprintf("unknown job_type %q", def.JobType))
	}
}

// decodeConfig decodes a definition's configuration into T. Payload
// errors become configuration errors.
func decodeConfig[T any](def *cron.Definition) (T, error) {
	v, err := handler.DecodePayload[T](def.Configuration)
	if err != nil {
		var zero T
		return zero, jobs.Misconfigured("dynamic cron "+string(def.JobType), err.Error())
	}
	return v, nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
