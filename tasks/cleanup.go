package tasks

import (
	"context"
	"time"

	"github.com/assaka/daino-jobs/dynamiccron"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/job"
)

// Cleaner deletes old rows from an allow-listed table.
// *dynamiccron.Guard satisfies it.
type Cleaner interface {
	Cleanup(ctx context.Context, storeID, table, column string, cutoff time.Time, limit int) (int64, error)
}

// CleanupPayload is the cleanup job payload.
type CleanupPayload struct {
	Table           string `json:"table" validate:"required"`
	OlderThanDays   int    `json:"older_than_days" validate:"required,gt=0"`
	TimestampColumn string `json:"timestamp_column,omitempty"`
	Limit           int    `json:"limit,omitempty" validate:"gte=0,lte=10000"`
}

// Cleanup purges rows older than a retention window.
type Cleanup struct {
	cleaner Cleaner
	now     func() time.Time
}

// NewCleanup creates the task.
func NewCleanup(c Cleaner) *Cleanup {
	return &Cleanup{cleaner: c, now: func() time.Time { return time.Now().UTC() }}
}

// Register binds the task to job.TypeCleanup.
func (c *Cleanup) Register(r *handler.Registry) {
	handler.Register(r, handler.NewDefinition(job.TypeCleanup, c.Handle))
}

// Handle deletes at most p.Limit rows of p.Table older than
// p.OlderThanDays, measured on p.TimestampColumn. The table and column
// are checked by the Cleaner before any connection is made.
func (c *Cleanup) Handle(hc *handler.Context, p CleanupPayload) (any, error) {
	if p.TimestampColumn == "" {
		p.TimestampColumn = dynamiccron.DefaultTimestampColumn
	}
	if p.Limit == 0 {
		p.Limit = dynamiccron.DefaultCleanupLimit
	}
	cutoff := c.now().AddDate(0, 0, -p.OlderThanDays)
	n, err := c.cleaner.Cleanup(hc.Context(), hc.StoreID(), p.Table, p.TimestampColumn, cutoff, p.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"table": p.Table, "deleted": n, "cutoff": cutoff.Format(time.RFC3339)}, nil
}
