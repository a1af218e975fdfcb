package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

var _ job.Store = (*CancelCache)(nil)

// DefaultSignalTTL bounds how long a cancellation signal is kept.
const DefaultSignalTTL = 24 * time.Hour

// Option configures a CancelCache.
type Option func(*CancelCache)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *CancelCache) { c.logger = l }
}

// WithSignalTTL sets the lifetime of cancellation signals.
func WithSignalTTL(d time.Duration) Option {
	return func(c *CancelCache) { c.ttl = d }
}

// CancelCache decorates a job.Store. RequestCancel also writes a signal
// key, and JobState answers from that key before reading the store, so
// running handlers poll Redis instead of the database. Redis failures
// fall back to the wrapped store.
type CancelCache struct {
	job.Store

	client goredis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewCancelCache wraps store. The caller owns the Redis client lifecycle.
func NewCancelCache(client goredis.Cmdable, store job.Store, opts ...Option) *CancelCache {
	c := &CancelCache{Store: store, client: client, ttl: DefaultSignalTTL, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping verifies the Redis connection is alive.
func (c *CancelCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RequestCancel records the request in the store, then publishes the
// signal for jobs that are still running.
func (c *CancelCache) RequestCancel(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	j, err := c.Store.RequestCancel(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}
	if j.State == job.StateCancelling {
		if err := c.Signal(ctx, jobID, reason); err != nil {
			c.logger.Warn("failed to publish cancel signal",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return j, nil
}

// Signal writes the cancellation signal of jobID.
func (c *CancelCache) Signal(ctx context.Context, jobID id.JobID, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	if err := c.client.Set(ctx, cancelKey(jobID.String()), reason, c.ttl).Err(); err != nil {
		return fmt.Errorf("jobs/redis: set cancel signal: %w", err)
	}
	return nil
}

// Reason returns the signalled cancellation reason, or "" when none.
func (c *CancelCache) Reason(ctx context.Context, jobID id.JobID) (string, error) {
	reason, err := c.client.Get(ctx, cancelKey(jobID.String())).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("jobs/redis: get cancel signal: %w", err)
	}
	return reason, nil
}

// JobState reports StateCancelling when a signal exists and otherwise
// reads the wrapped store.
func (c *CancelCache) JobState(ctx context.Context, jobID id.JobID) (job.State, error) {
	reason, err := c.Reason(ctx, jobID)
	if err != nil {
		c.logger.Warn("cancel signal lookup failed, reading store",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
	if reason != "" {
		return job.StateCancelling, nil
	}
	return c.Store.JobState(ctx, jobID)
}
