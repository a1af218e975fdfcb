package middleware

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/assaka/daino-jobs/handler"
)

// meterName is the instrumentation scope name for job metrics.
const meterName = "github.com/assaka/daino-jobs"

// Metrics returns middleware that records per-attempt metrics using the
// global MeterProvider.
//
// Instruments:
//   - jobs.job.duration (Float64Histogram): execution time in seconds
//   - jobs.job.executions (Int64Counter): total executions
//
// Both carry job_type and status ("ok", "error" or "cancelled").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the OTel API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"jobs.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"jobs.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(hc *handler.Context, next handler.Func) (any, error) {
		start := time.Now()
		out, err := next(hc)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("job_type", string(hc.Job().Type)),
			attribute.String("status", status(err)),
		)
		duration.Record(hc.Context(), elapsed, attrs)
		executions.Add(hc.Context(), 1, attrs)
		return out, err
	}
}
