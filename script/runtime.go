package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/httpclient"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// Fetcher performs http_fetch steps. *httpclient.Client satisfies it.
type Fetcher interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Query is a db_query step after expression resolution.
type Query struct {
	Table     string
	Operation string
	Where     map[string]any
	Set       map[string]any
	Limit     int
}

// Querier runs db_query steps against a tenant database. Implementations
// enforce the table allow-list.
type Querier interface {
	Query(ctx context.Context, storeID string, q Query) (any, error)
}

// Enqueuer enqueues jobs for enqueue_job steps.
type Enqueuer func(ctx context.Context, t job.Type, payload json.RawMessage, opts ...job.Option) (id.JobID, error)

// Limits bound one program run.
type Limits struct {
	MaxSteps int
	// CostLimit is the CEL cost budget per expression.
	CostLimit        uint64
	Timeout          time.Duration
	MaxResponseBytes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:         100,
		CostLimit:        100_000,
		Timeout:          30 * time.Second,
		MaxResponseBytes: 1 << 20,
	}
}

// Input is the fixed surface a program sees besides its own vars.
type Input struct {
	StoreID    string
	Params     map[string]any
	APIBaseURL string
}

// Result is the outcome of a run. Output is the "result" var when the
// program sets one.
type Result struct {
	Output   any            `json:"output,omitempty"`
	Vars     map[string]any `json:"vars"`
	StepsRun int            `json:"steps_run"`
	Skipped  int            `json:"skipped"`
}

// Runtime executes programs with the capabilities it was given. A step
// whose capability is missing fails with a configuration error.
type Runtime struct {
	fetch   Fetcher
	db      Querier
	enqueue Enqueuer
	logger  *slog.Logger
	limits  Limits
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFetcher enables http_fetch.
func WithFetcher(f Fetcher) Option { return func(r *Runtime) { r.fetch = f } }

// WithQuerier enables db_query.
func WithQuerier(q Querier) Option { return func(r *Runtime) { r.db = q } }

// WithEnqueuer enables enqueue_job.
func WithEnqueuer(e Enqueuer) Option { return func(r *Runtime) { r.enqueue = e } }

// WithLogger sets the logger used by log steps.
func WithLogger(l *slog.Logger) Option { return func(r *Runtime) { r.logger = l } }

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option { return func(r *Runtime) { r.limits = l } }

// New creates a Runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{logger: slog.Default(), limits: DefaultLimits()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes p. Step errors stop the run; errors that already carry a
// kind keep it, others are reported as downstream failures.
func (r *Runtime) Run(ctx context.Context, p *Program, in Input) (*Result, error) {
	if len(p.Steps) > r.limits.MaxSteps {
		return nil, jobs.Misconfigured("script.run",
			fmt.Sprintf("program has %d steps, limit is %d", len(p.Steps), r.limits.MaxSteps))
	}
	if r.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.limits.Timeout)
		defer cancel()
	}

	var names []string
	seen := map[string]bool{}
	for _, s := range p.Steps {
		if s.As != "" && !seen[s.As] {
			seen[s.As] = true
			names = append(names, s.As)
		}
	}
	ev, err := newEvaluator(names, r.limits.CostLimit)
	if err != nil {
		return nil, jobs.Misconfigured("script.run", err.Error())
	}

	if in.Params == nil {
		in.Params = map[string]any{}
	}
	vars := make(map[string]any)
	res := &Result{Vars: vars}
	logger := r.logger.With(slog.String("store_id", in.StoreID))

	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return res, r.ctxErr(err)
		}
		activation := map[string]any{
			"storeId":    in.StoreID,
			"params":     in.Params,
			"apiBaseUrl": in.APIBaseURL,
			"vars":       vars,
		}
		for _, n := range names {
			activation[n] = vars[n]
		}

		if step.When != "" {
			ok, err := ev.evalBool(ctx, step.When, activation)
			if err != nil {
				return res, r.stepErr(ctx, i, step, err)
			}
			if !ok {
				res.Skipped++
				continue
			}
		}

		resolved, err := ev.resolve(ctx, step.Params, activation)
		if err != nil {
			return res, r.stepErr(ctx, i, step, err)
		}
		params, _ := resolved.(map[string]any)
		if params == nil {
			params = map[string]any{}
		}

		out, err := r.exec(ctx, step, params, in, logger)
		if err != nil {
			return res, r.stepErr(ctx, i, step, err)
		}
		if step.As != "" {
			vars[step.As] = out
		}
		res.StepsRun++
	}

	res.Output = vars["result"]
	return res, nil
}

func (r *Runtime) ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return jobs.TimedOut("script.run")
	}
	return err
}

func (r *Runtime) stepErr(ctx context.Context, i int, step Step, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return r.ctxErr(ctxErr)
	}
	if jobs.KindOf(err) != "" {
		return err
	}
	return jobs.Downstream(fmt.Sprintf("script step %d (%s)", i, step.Action), err)
}

func (r *Runtime) exec(ctx context.Context, step Step, params map[string]any, in Input, logger *slog.Logger) (any, error) {
	switch step.Action {
	case ActionHTTPFetch:
		return r.httpFetch(ctx, params)
	case ActionDBQuery:
		return r.dbQuery(ctx, params, in)
	case ActionLog:
		logStep(ctx, logger, params)
		return nil, nil
	case ActionSet:
		if v, ok := params["value"]; ok {
			return v, nil
		}
		return params, nil
	case ActionEnqueueJob:
		return r.enqueueJob(ctx, params, in)
	case ActionFail:
		msg := stringParam(params, "message")
		if msg == "" {
			msg = "script failed"
		}
		return nil, jobs.Downstream("script", errors.New(msg))
	default:
		return nil, jobs.Misconfigured("script.run", fmt.Sprintf("unknown action %q", step.Action))
	}
}

func (r *Runtime) httpFetch(ctx context.Context, params map[string]any) (any, error) {
	if r.fetch == nil {
		return nil, jobs.Misconfigured("script.http_fetch", "http access is not available")
	}
	url := stringParam(params, "url")
	if url == "" {
		return nil, jobs.Misconfigured("script.http_fetch", "url is required")
	}
	req := httpclient.Request{
		Method:  stringParam(params, "method"),
		URL:     url,
		Headers: stringMap(params["headers"]),
		Body:    params["body"],

		MaxBodyBytes: int64(r.limits.MaxResponseBytes),
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if ms := intParam(params, "timeout_ms"); ms > 0 {
		req.Timeout = time.Duration(ms) * time.Millisecond
	}

	resp, err := r.fetch.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	// Fetchers other than httpclient may ignore MaxBodyBytes.
	if r.limits.MaxResponseBytes > 0 && len(resp.Body) > r.limits.MaxResponseBytes {
		return nil, fmt.Errorf("%w of %d bytes", httpclient.ErrBodyTooLarge, r.limits.MaxResponseBytes)
	}
	return map[string]any{
		"status":  int64(resp.Status),
		"ok":      resp.OK(),
		"headers": anyMap(resp.Headers),
		"body":    decodeBody(resp.Body),
	}, nil
}

func (r *Runtime) dbQuery(ctx context.Context, params map[string]any, in Input) (any, error) {
	if r.db == nil {
		return nil, jobs.Misconfigured("script.db_query", "database access is not available")
	}
	q := Query{
		Table:     stringParam(params, "table"),
		Operation: stringParam(params, "operation"),
		Limit:     int(intParam(params, "limit")),
	}
	if w, ok := params["where"].(map[string]any); ok {
		q.Where = w
	}
	if s, ok := params["set"].(map[string]any); ok {
		q.Set = s
	}
	if q.Operation == "" {
		q.Operation = "select"
	}
	return r.db.Query(ctx, in.StoreID, q)
}

func (r *Runtime) enqueueJob(ctx context.Context, params map[string]any, in Input) (any, error) {
	if r.enqueue == nil {
		return nil, jobs.Misconfigured("script.enqueue_job", "job enqueueing is not available")
	}
	t, err := job.ParseType(stringParam(params, "job_type"))
	if err != nil {
		return nil, jobs.Misconfigured("script.enqueue_job", err.Error())
	}
	if t == job.TypeDynamicCron {
		return nil, jobs.Misconfigured("script.enqueue_job", "scripts cannot enqueue dispatcher jobs")
	}
	payload, err := json.Marshal(params["payload"])
	if err != nil {
		return nil, jobs.Misconfigured("script.enqueue_job", err.Error())
	}
	opts := []job.Option{job.WithStoreID(in.StoreID)}
	if d := intParam(params, "delay_seconds"); d > 0 {
		opts = append(opts, job.WithScheduledAt(time.Now().UTC().Add(time.Duration(d)*time.Second)))
	}
	jobID, err := r.enqueue(ctx, t, payload, opts...)
	if err != nil {
		return nil, err
	}
	return jobID.String(), nil
}

func logStep(ctx context.Context, logger *slog.Logger, params map[string]any) {
	msg := stringParam(params, "message")
	level := slog.LevelInfo
	switch stringParam(params, "level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	attrs := []slog.Attr{slog.String("source", "script")}
	if data, ok := params["data"]; ok {
		attrs = append(attrs, slog.Any("data", data))
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
}

func decodeBody(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(body)
	}
	return normalizeValue(v)
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intParam(params map[string]any, key string) int64 {
	switch v := params[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, e := range m {
		out[k] = fmt.Sprint(e)
	}
	return out
}

func anyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
