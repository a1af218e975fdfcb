// Package backoff provides retry delay strategies. They drive the delay
// between in-handler retry attempts and the scheduled time of job-level
// retries. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Immediate retries with no delay.
var Immediate Strategy = Func(func(int) time.Duration { return 0 })

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt with no jitter.
// Delay = min(Base * 2^(attempt-1), Max). A zero Max means uncapped.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if d > math.MaxInt64 {
		d = math.MaxInt64
	}
	if e.Max > 0 && time.Duration(d) > e.Max {
		return e.Max
	}
	return time.Duration(d)
}

// Jitter randomizes another strategy's delay. Fraction is the share of
// each delay that is randomized: 0 leaves it untouched, 1 is full jitter
// in [0, d].
type Jitter struct {
	Strategy Strategy
	Fraction float64
}

// WithJitter wraps s so that the last fraction of each delay is random.
func WithJitter(s Strategy, fraction float64) *Jitter {
	return &Jitter{Strategy: s, Fraction: math.Min(math.Max(fraction, 0), 1)}
}

// Delay returns d*(1-Fraction) + rand[0, d*Fraction).
func (j *Jitter) Delay(attempt int) time.Duration {
	d := float64(j.Strategy.Delay(attempt))
	fixed := d * (1 - j.Fraction)
	return time.Duration(fixed + rand.Float64()*d*j.Fraction) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the in-handler retry default: exponential from
// one second, uncapped, without jitter.
func DefaultStrategy() Strategy {
	return NewExponential(time.Second, 0)
}
