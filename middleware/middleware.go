// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, scope the tenant, log, trace, etc.).
package middleware

import (
	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/handler"
)

// Middleware wraps a handler with cross-cutting logic. It MUST call next
// to continue the chain unless it is short-circuiting with an error.
type Middleware func(hc *handler.Context, next handler.Func) (any, error)

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
//
//	Chain(logging, recover, tenant) runs as logging → recover → tenant → handler
func Chain(mws ...Middleware) Middleware {
	return func(hc *handler.Context, next handler.Func) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(hc *handler.Context) (any, error) {
				return mw(hc, prev)
			}
		}
		return h(hc)
	}
}

// status classifies an execution outcome for logs and metrics.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case jobs.IsCancelled(err):
		return "cancelled"
	default:
		return "error"
	}
}
