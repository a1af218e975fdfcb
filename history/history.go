// Package history defines the append-only audit trail written for every
// queued job attempt.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/assaka/daino-jobs/id"
)

// Kind names a history event.
type Kind string

const (
	KindStarted        Kind = "started"
	KindProgress       Kind = "progress"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindRetryScheduled Kind = "retry_scheduled"
	KindCancelled      Kind = "cancelled"
)

// Entry is one immutable history record. Fields not relevant to Kind are
// left zero.
type Entry struct {
	ID       id.HistoryID    `json:"id"`
	JobID    id.JobID        `json:"job_id"`
	Kind     Kind            `json:"kind"`
	Progress float64         `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
	// Attempt and NextRunAt describe a scheduled retry.
	Attempt   int       `json:"attempt,omitempty"`
	NextJobID id.JobID  `json:"next_job_id,omitempty"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry stamps a new entry for jobID.
func NewEntry(jobID id.JobID, kind Kind) *Entry {
	return &Entry{
		ID:        id.NewHistoryID(),
		JobID:     jobID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// Store persists history entries. Entries are never updated.
type Store interface {
	// RecordHistory appends an entry.
	RecordHistory(ctx context.Context, e *Entry) error

	// ListHistory returns the entries of a job in insertion order.
	ListHistory(ctx context.Context, jobID id.JobID) ([]*Entry, error)
}
