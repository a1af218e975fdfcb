package middleware

import (
	"context"
	"log/slog"

	"github.com/assaka/daino-jobs/handler"
)

// Timeout returns middleware that enforces the job's Timeout. Handlers
// observe the deadline through hc.Context(); cooperative handlers stop at
// their next I/O or CheckAbort.
func Timeout(logger *slog.Logger) Middleware {
	return func(hc *handler.Context, next handler.Func) (any, error) {
		j := hc.Job()
		if j.Timeout <= 0 {
			return next(hc)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		ctx, cancel := context.WithTimeout(hc.Context(), j.Timeout)
		defer cancel()
		return next(hc.WithContext(ctx))
	}
}
