// Package handler defines the contract every job handler is written
// against.
//
// A handler is a [Func] receiving a per-attempt [*Context]. The context
// exposes the job payload, progress reporting, cooperative cancellation
// and the execution helpers handlers share:
//
//	var Refresh = handler.NewDefinition(job.TypeTokenRefresh,
//	    func(hc *handler.Context, p RefreshPayload) (any, error) {
//	        if err := hc.ValidateDependencies(integrationConfigured(p)); err != nil {
//	            return nil, err
//	        }
//	        out, err := handler.BatchProcess(hc, tokens, p.BatchSize, refreshOne, nil)
//	        ...
//	    })
//
// Payloads are decoded and validated by the [Registry] before the handler
// runs, so a missing required field fails the job without executing it.
//
// Cancellation is cooperative. [Context.CheckAbort] is cheap to call
// often: after the first detection it never touches the store, and
// before that it reads job state at most once per interval.
package handler
