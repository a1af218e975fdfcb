package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobAborted   = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.CronFired    = (*MetricsExtension)(nil)
)

const meterName = "github.com/assaka/daino-jobs/observability"

// MetricsExtension records system-wide lifecycle counters. Register it
// with the extension registry to track enqueue rates, completion counts,
// failure rates, retries, aborts, cancellations and cron fires.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobAborted   metric.Int64Counter
	JobCancelled metric.Int64Counter
	CronFired    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:  counter(meter, "jobs.job.enqueued", "Jobs persisted in pending state"),
		JobCompleted: counter(meter, "jobs.job.completed", "Jobs that finished successfully"),
		JobFailed:    counter(meter, "jobs.job.failed", "Job attempts that failed"),
		JobRetried:   counter(meter, "jobs.job.retried", "Retry attempts scheduled"),
		JobAborted:   counter(meter, "jobs.job.aborted", "Jobs a handler aborted itself"),
		JobCancelled: counter(meter, "jobs.job.cancelled", "Jobs cancelled by request"),
		CronFired:    counter(meter, "jobs.cron.fired", "Cron definitions that fired"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	// On error the OTel API returns a noop instrument.
	c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
	return c
}

func typeAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", string(j.Type)))
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, failed, _ *job.Job) error {
	m.JobRetried.Add(ctx, 1, typeAttr(failed))
	return nil
}

// OnJobAborted implements ext.JobAborted.
func (m *MetricsExtension) OnJobAborted(ctx context.Context, j *job.Job, _ string) error {
	m.JobAborted.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job, _ string) error {
	m.JobCancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, _ string, _ id.CronID, _ id.JobID) error {
	m.CronFired.Add(ctx, 1)
	return nil
}
