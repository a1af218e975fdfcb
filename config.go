package jobs

import "time"

// Config holds configuration for the job runner.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// PollInterval is how often idle workers poll the store for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// AbortCheckInterval bounds how often a running handler reads the
	// authoritative job state while checking for cancellation.
	AbortCheckInterval time.Duration

	// ProgressPersistInterval bounds how often progress updates are
	// appended to job history. Events are emitted on every update.
	ProgressPersistInterval time.Duration

	// SubJobWaitTimeout is the default wait for fanned-out sub-jobs.
	SubJobWaitTimeout time.Duration

	// CronTickInterval is how often the cron scheduler looks for due
	// definitions.
	CronTickInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:             10,
		PollInterval:            1 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		AbortCheckInterval:      5 * time.Second,
		ProgressPersistInterval: 1 * time.Second,
		SubJobWaitTimeout:       30 * time.Minute,
		CronTickInterval:        1 * time.Second,
	}
}
