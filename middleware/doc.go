// Package middleware provides composable wrappers around handler
// execution.
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Logging(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Tenant(),
//	    middleware.Timeout(logger),
//	)
//
// Built-in middleware:
//
//   - [Logging]: start and outcome of every attempt
//   - [Recover]: panics become errors
//   - [Timeout]: applies job.Timeout to the handler context
//   - [Tracing]: one OpenTelemetry span per attempt
//   - [Metrics]: duration histogram and execution counter
//   - [Tenant]: carries the job's store ID on the context
//
// Custom middleware:
//
//	func Audit(w io.Writer) middleware.Middleware {
//	    return func(hc *handler.Context, next handler.Func) (any, error) {
//	        out, err := next(hc)
//	        fmt.Fprintf(w, "%s %v\n", hc.Job().ID, err)
//	        return out, err
//	    }
//	}
package middleware
