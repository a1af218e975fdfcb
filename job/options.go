package job

import "time"

// Options configures a job at enqueue time.
type Options struct {
	// MaxRetries is the number of additional attempts after a failure.
	MaxRetries int

	// Priority determines claim ordering. Higher values are claimed first.
	Priority int

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration

	// ScheduledAt delays the job. Zero means immediate.
	ScheduledAt time.Time

	// StoreID scopes the job to a tenant.
	StoreID string

	// UserID records who enqueued the job.
	UserID string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum execution duration of one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithScheduledAt delays the job until t.
func WithScheduledAt(t time.Time) Option {
	return func(o *Options) { o.ScheduledAt = t }
}

// WithStoreID scopes the job to a tenant.
func WithStoreID(storeID string) Option {
	return func(o *Options) { o.StoreID = storeID }
}

// WithUserID records the enqueuing user.
func WithUserID(userID string) Option {
	return func(o *Options) { o.UserID = userID }
}
