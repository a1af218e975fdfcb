package cron

import (
	"encoding/json"
	"time"

	"github.com/assaka/daino-jobs/id"
)

// Status is the outcome of one dispatcher run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Execution records one dispatcher run of a definition.
type Execution struct {
	ID          id.ExecutionID  `json:"id"`
	CronID      id.CronID       `json:"cron_job_id"`
	JobID       id.JobID        `json:"job_id,omitempty"`
	StoreID     string          `json:"store_id,omitempty"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Duration    time.Duration   `json:"duration"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewExecution starts a running record.
func NewExecution(d *Definition, jobID id.JobID) *Execution {
	return &Execution{
		ID:        id.NewExecutionID(),
		CronID:    d.ID,
		JobID:     jobID,
		StoreID:   d.StoreID,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Finish closes the record with status and the elapsed duration.
func (e *Execution) Finish(status Status, result json.RawMessage, err error) {
	now := time.Now().UTC()
	e.Status = status
	e.Result = result
	if err != nil {
		e.Error = err.Error()
	}
	e.CompletedAt = &now
	e.Duration = now.Sub(e.StartedAt)
}
