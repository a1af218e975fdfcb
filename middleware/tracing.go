package middleware

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/assaka/daino-jobs/handler"
)

// tracerName is the instrumentation scope name for job tracing.
const tracerName = "github.com/assaka/daino-jobs"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: jobs.job.id, jobs.job.type, jobs.store_id,
// jobs.retry_count. Cancellation is recorded as an event, not an error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(hc *handler.Context, next handler.Func) (any, error) {
		j := hc.Job()
		ctx, span := tracer.Start(hc.Context(), "jobs.job.execute",
			trace.WithAttributes(
				attribute.String("jobs.job.id", j.ID.String()),
				attribute.String("jobs.job.type", string(j.Type)),
				attribute.String("jobs.store_id", j.StoreID),
				attribute.Int("jobs.retry_count", j.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(hc.WithContext(ctx))
		switch status(err) {
		case "ok":
			span.SetStatus(codes.Ok, "")
		case "cancelled":
			span.AddEvent("job.cancelled", trace.WithAttributes(attribute.String("reason", err.Error())))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
}
