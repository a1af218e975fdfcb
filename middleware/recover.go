package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/assaka/daino-jobs/handler"
)

// Recover returns middleware that converts handler panics into errors and
// logs them with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(hc *handler.Context, next handler.Func) (out any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				j := hc.Job()
				logger.Error("job handler panicked",
					slog.String("job_type", string(j.Type)),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out, retErr = nil, fmt.Errorf("panic in job %s: %v", j.Type, r)
			}
		}()
		return next(hc)
	}
}
