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
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// fanOutTypes maps definition kinds to the job type they enqueue.
// system_job names its target in the configuration.
var fanOutTypes = map[cron.JobType]job.Type{
	cron.JobTypeAkeneoImport: job.TypeAkeneoImport,
	cron.JobTypeShopifySync:  job.TypeShopifySync,
	cron.JobTypeTokenRefresh: job.TypeTokenRefresh,
}

// controlKeys are configuration keys consumed by the dispatcher and never
// forwarded in a derived payload.
var controlKeys = []string{
	"job_type", "payload", "wait_for_completion", "wait_timeout_ms",
	"priority", "max_retries", "delay_seconds",
}

type fanOutConfig struct {
	JobType           string          `json:"job_type"`
	Payload           json.RawMessage `json:"payload"`
	WaitForCompletion bool            `json:"wait_for_completion"`
	WaitTimeoutMS     int64           `json:"wait_timeout_ms"`
	Priority          int             `json:"priority"`
	MaxRetries        *int            `json:"max_retries"`
	DelaySeconds      int             `json:"delay_seconds"`
}

func (d *Dispatcher) runFanOut(hc *handler.Context, def *cron.Definition) (any, error) {
	op := "dispatch " + string(def.JobType)
	if d.enqueue == nil {
		return nil, jobs.Misconfigured(op, "job enqueueing not configured")
	}

	var cfg fanOutConfig
	if len(def.Configuration) > 0 {
		if err := json.Unmarshal(def.Configuration, &cfg); err != nil {
			return nil, jobs.Misconfigured(op, "invalid configuration: "+err.Error())
		}
	}

	target, err := fanOutTarget(def.JobType, cfg.JobType)
	if err != nil {
		return nil, err
	}
	payload, err := derivePayload(def.Configuration, cfg.Payload)
	if err != nil {
		return nil, jobs.Misconfigured(op, err.Error())
	}

	opts := []job.Option{job.WithStoreID(def.StoreID), job.WithPriority(cfg.Priority)}
	if cfg.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*cfg.MaxRetries))
	}
	if cfg.DelaySeconds > 0 {
		opts = append(opts, job.WithScheduledAt(d.now().Add(time.Duration(cfg.DelaySeconds)*time.Second)))
	}

	jobID, err := d.enqueue(hc.Context(), target, payload, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: enqueue %s: %w", op, target, err)
	}
	hc.Logger().Info("cron fan-out enqueued",
		slog.String("sub_job_id", jobID.String()),
		slog.String("sub_job_type", string(target)),
	)
	out := map[string]any{"job_id": jobID.String(), "job_type": string(target)}
	if !cfg.WaitForCompletion {
		return out, nil
	}

	hc.UpdateProgress(10, "waiting for "+string(target))
	timeout := d.waitMax
	if cfg.WaitTimeoutMS > 0 {
		timeout = time.Duration(cfg.WaitTimeoutMS) * time.Millisecond
	}
	done, err := d.waitSubJob(hc, jobID, timeout)
	if err != nil {
		return nil, err
	}
	out["job_id"] = done.ID.String()
	out["state"] = string(done.State)
	switch done.State {
	case job.StateCompleted:
		if len(done.Result) > 0 {
			out["result"] = done.Result
		}
		return out, nil
	case job.StateCancelled:
		return nil, jobs.Downstream(op, fmt.Errorf("sub-job %s was cancelled: %s", done.ID, done.CancelReason))
	default:
		return nil, jobs.Downstream(op, fmt.Errorf("sub-job %s failed: %s", done.ID, done.LastError))
	}
}

// waitSubJob blocks on the waiter while a watcher re-checks the abort
// flag of the dispatching job every wait slice.
func (d *Dispatcher) waitSubJob(hc *handler.Context, jobID id.JobID, timeout time.Duration) (*job.Job, error) {
	if d.waiter == nil {
		return nil, jobs.Misconfigured("wait for sub-job", "completion waiting not configured")
	}
	ctx, cancel := context.WithCancel(hc.Context())
	defer cancel()

	aborted := make(chan error, 1)
	go func() {
		if d.waitSlice <= 0 {
			return
		}
		t := time.NewTicker(d.waitSlice)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := hc.CheckAbort(); err != nil {
					aborted <- err
					cancel()
					return
				}
			}
		}
	}()

	done, err := d.waiter.WaitForTerminal(ctx, jobID, timeout)
	if err != nil {
		select {
		case abortErr := <-aborted:
			return nil, abortErr
		default:
		}
		if errors.Is(err, context.Canceled) && hc.Aborted() {
			return nil, hc.CheckAbort()
		}
		return nil, err
	}
	return done, nil
}

func fanOutTarget(kind cron.JobType, configured string) (job.Type, error) {
	if t, ok := fanOutTypes[kind]; ok {
		return t, nil
	}
	op := "dispatch " + string(kind)
	if configured == "" {
		return "", jobs.Misconfigured(op, "configuration job_type is required")
	}
	t, err := job.ParseType(configured)
	if err != nil {
		return "", jobs.Misconfigured(op, err.Error())
	}
	if t == job.TypeDynamicCron {
		return "", jobs.Misconfigured(op, "system_job may not enqueue dynamic_cron")
	}
	return t, nil
}

// derivePayload returns the explicit payload object, or the configuration
// without control keys.
func derivePayload(config, explicit json.RawMessage) (json.RawMessage, error) {
	if len(explicit) > 0 && string(explicit) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(explicit, &obj); err != nil {
			return nil, fmt.Errorf("payload must be an object: %w", err)
		}
		return explicit, nil
	}
	obj := map[string]any{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &obj); err != nil {
			return nil, err
		}
	}
	for _, k := range controlKeys {
		delete(obj, k)
	}
	return json.Marshal(obj)
}
