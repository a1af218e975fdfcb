// Package importstats records per-run counters of catalog imports.
package importstats

import (
	"context"
	"time"

	"github.com/assaka/daino-jobs/id"
)

// EntityType is the catalog entity an import run covers.
type EntityType string

const (
	EntityProducts   EntityType = "products"
	EntityCategories EntityType = "categories"
	EntityAttributes EntityType = "attributes"
	EntityFamilies   EntityType = "families"
)

// Statistics is written once per import run, on success and on partial
// failure alike.
type Statistics struct {
	ID          id.ID      `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	StoreID     string     `json:"store_id"`
	Integration string     `json:"integration"`
	EntityType  EntityType `json:"entity_type"`
	Total       int        `json:"total"`
	Imported    int        `json:"imported"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Errors      []string   `json:"errors,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// New stamps an empty record.
func New(jobID id.JobID, storeID, integration string, et EntityType) *Statistics {
	return &Statistics{
		ID:          id.NewStatsID(),
		JobID:       jobID,
		StoreID:     storeID,
		Integration: integration,
		EntityType:  et,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store persists import statistics.
type Store interface {
	RecordStatistics(ctx context.Context, s *Statistics) error
	// ListStatistics returns the newest records first. Empty filters match
	// everything; limit 0 means no limit.
	ListStatistics(ctx context.Context, storeID, integration string, limit int) ([]*Statistics, error)
}
