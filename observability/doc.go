// Package observability provides an OpenTelemetry metrics extension.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, completion, failure, retry, abort,
// cancellation and cron events, labelled by job type.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
