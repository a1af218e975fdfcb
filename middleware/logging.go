package middleware

import (
	"log/slog"
	"time"

	"github.com/assaka/daino-jobs/handler"
)

// Logging returns middleware that logs every attempt's start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(hc *handler.Context, next handler.Func) (any, error) {
		j := hc.Job()
		attrs := []any{
			slog.String("job_type", string(j.Type)),
			slog.String("job_id", j.ID.String()),
			slog.String("store_id", j.StoreID),
			slog.Int("retry_count", j.RetryCount),
		}
		logger.Info("job started", attrs...)

		start := time.Now()
		out, err := next(hc)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		switch status(err) {
		case "ok":
			logger.Info("job completed", attrs...)
		case "cancelled":
			logger.Info("job cancelled", append(attrs, slog.String("reason", err.Error()))...)
		default:
			logger.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
		}
		return out, err
	}
}
