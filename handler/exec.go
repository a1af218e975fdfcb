package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/backoff"
)

// ExecuteWithTimeout runs op and waits at most timeout for it. op gets a
// context that is cancelled when the timeout fires; an op that ignores
// its context keeps running in the background after the wait is
// abandoned. A non-positive timeout runs op inline.
func ExecuteWithTimeout[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(opCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-opCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, jobs.TimedOut(fmt.Sprintf("operation exceeded %s", timeout))
	}
}

// WithTimeout is ExecuteWithTimeout for operations without a result.
func (c *Context) WithTimeout(timeout time.Duration, op func(ctx context.Context) error) error {
	_, err := ExecuteWithTimeout(c.ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryConfig configures RetryOperation.
type RetryConfig struct {
	strategy backoff.Strategy
	sleep    func(ctx context.Context, d time.Duration) error
	retryIf  func(err error) bool
}

// RetryOption configures RetryOperation.
type RetryOption func(*RetryConfig)

// WithStrategy replaces the exponential base delay with s.
func WithStrategy(s backoff.Strategy) RetryOption {
	return func(c *RetryConfig) { c.strategy = s }
}

// WithSleep overrides how RetryOperation waits between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(c *RetryConfig) { c.sleep = fn }
}

// WithRetryIf limits retries to errors for which fn returns true.
// Cancelled errors are never retried.
func WithRetryIf(fn func(err error) bool) RetryOption {
	return func(c *RetryConfig) { c.retryIf = fn }
}

// RetryOperation runs op up to maxAttempts times. After failed attempt n
// it sleeps baseDelay*2^(n-1) with no jitter. The last attempt's error is
// returned unchanged. A cancelled error or a done ctx stops immediately.
func RetryOperation[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context, attempt int) (T, error), opts ...RetryOption) (T, error) {
	cfg := RetryConfig{
		strategy: backoff.NewExponential(baseDelay, 0),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err = op(ctx, attempt)
		if err == nil || attempt == maxAttempts || jobs.IsCancelled(err) {
			return v, err
		}
		if cfg.retryIf != nil && !cfg.retryIf(err) {
			return v, err
		}
		if serr := cfg.sleep(ctx, cfg.strategy.Delay(attempt)); serr != nil {
			return v, err
		}
	}
	return v, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dependency is a named precondition checked before a handler does work.
type Dependency struct {
	Name    string
	Check   func(ctx context.Context) (bool, error)
	Message string
}

// ValidateDependencies runs each check in order and fails with
// KindDependencyUnsatisfied on the first failing, erroring or malformed
// entry.
func ValidateDependencies(ctx context.Context, deps ...Dependency) error {
	for i, d := range deps {
		if d.Name == "" || d.Check == nil {
			name := d.Name
			if name == "" {
				name = fmt.Sprintf("dependency[%d]", i)
			}
			return jobs.Unsatisfied(name, "malformed dependency: name and check are required")
		}
		ok, err := d.Check(ctx)
		if err != nil {
			return &jobs.Error{Kind: jobs.KindDependencyUnsatisfied, Field: d.Name, Msg: d.Message, Err: err}
		}
		if !ok {
			msg := d.Message
			if msg == "" {
				msg = "check failed"
			}
			return jobs.Unsatisfied(d.Name, msg)
		}
	}
	return nil
}

// ValidateDependencies runs deps against the attempt's context.
func (c *Context) ValidateDependencies(deps ...Dependency) error {
	return ValidateDependencies(c.ctx, deps...)
}

// IsTimeout reports whether err is a handler timeout or a context
// deadline.
func IsTimeout(err error) bool {
	return jobs.KindOf(err) == jobs.KindTimeout || errors.Is(err, context.DeadlineExceeded)
}
