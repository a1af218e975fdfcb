package cron

import (
	"context"
	"time"

	"github.com/assaka/daino-jobs/id"
)

// Store defines the persistence contract for cron definitions.
type Store interface {
	// CreateCron persists a new definition. Names are unique per store id.
	CreateCron(ctx context.Context, d *Definition) error

	// GetCron retrieves a definition by ID.
	GetCron(ctx context.Context, cronID id.CronID) (*Definition, error)

	// ListCrons returns definitions, restricted to storeID when non-empty.
	ListCrons(ctx context.Context, storeID string) ([]*Definition, error)

	// ListDueCrons returns active, unpaused definitions whose NextRunAt
	// is at or before now.
	ListDueCrons(ctx context.Context, now time.Time) ([]*Definition, error)

	// UpdateCron persists changes to a definition.
	UpdateCron(ctx context.Context, d *Definition) error

	// RecordCronFired increments RunCount and sets LastRunAt and NextRunAt.
	RecordCronFired(ctx context.Context, cronID id.CronID, at time.Time, next *time.Time) error

	// RecordCronOutcome applies MarkSucceeded or MarkFailed atomically.
	RecordCronOutcome(ctx context.Context, cronID id.CronID, success bool) error

	// DeleteCron removes a definition.
	DeleteCron(ctx context.Context, cronID id.CronID) error
}

// ExecutionStore persists dispatcher run records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *Execution) error
	UpdateExecution(ctx context.Context, e *Execution) error
	// ListExecutions returns the newest runs of a definition first.
	ListExecutions(ctx context.Context, cronID id.CronID, limit int) ([]*Execution, error)
}
