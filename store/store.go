// Package store defines the aggregate persistence interface. Each
// subsystem (job, history, cron, importstats, plugin scripts) defines its
// own store interface; a backend implements all of them. Backends:
// Postgres and Memory.
package store

import (
	"context"

	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/importstats"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/plugin"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	history.Store
	cron.Store
	cron.ExecutionStore
	importstats.Store
	plugin.ScriptStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
