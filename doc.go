// Package jobs is a background job framework for a multi-tenant commerce
// backend. Handlers run long, cancellable, progress-reporting work such as
// catalog imports, webhook fan-out, token refresh, credit billing and
// tenant-defined cron automation.
//
// The root package holds what every subsystem shares: the tagged error
// taxonomy ([Error], [Kind]), store sentinel errors, [Config] and the
// [Entity] timestamps. Subsystems live in their own packages:
//
//   - job, history: the job record, its states and the store contracts
//   - handler: the per-attempt [handler.Context] handed to every handler,
//     with progress, cooperative cancellation and execution helpers
//   - batch: chunked processing with bounded per-chunk concurrency
//   - worker: the lifecycle runner and the claim loop
//   - cron, dynamiccron, script, plugin: stored schedule definitions and
//     the dispatcher that executes them
//   - store/memory, store/postgres, store/redis: persistence backends
//   - engine: wires everything together
//
// # Cancellation
//
// Cancellation is cooperative. A cancel request moves a running job to
// "cancelling"; the handler observes it at its next checkpoint through
// [handler.Context.CheckAbort] and returns an error for which
// [IsCancelled] reports true. Cancelled jobs are never retried.
//
// # Identifiers
//
// All entity IDs are prefix-qualified UUIDv7 strings such as
// "job_0192f1c5-...". Jobs invoked directly, outside the queue, carry a
// "sys_" ID and never write history.
package jobs
