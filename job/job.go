package job

import (
	"encoding/json"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the attempt failed. A retry is a new row.
	StateFailed State = "failed"
	// StateCancelling means cancellation was requested for a running job
	// and the handler has not yet observed it.
	StateCancelling State = "cancelling"
	// StateCancelled means the job stopped because of a cancel request.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// AbortRequested reports whether a running handler should stop.
func (s State) AbortRequested() bool {
	return s == StateCancelling || s == StateCancelled
}

// Job represents one attempt of a unit of work.
type Job struct {
	jobs.Entity

	ID       id.JobID        `json:"id"`
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	State    State           `json:"state"`
	Priority int             `json:"priority"`
	// StoreID is the tenant scope. Empty for platform-level jobs.
	StoreID    string `json:"store_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	MaxRetries int    `json:"max_retries"`
	RetryCount int    `json:"retry_count"`
	// ParentID links a retry attempt to the row it replaces.
	ParentID     id.JobID      `json:"parent_id,omitempty"`
	Progress     float64       `json:"progress"`
	Message      string        `json:"message,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	WorkerID     id.WorkerID   `json:"worker_id,omitempty"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	FailedAt     *time.Time    `json:"failed_at,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// New builds a pending job of the given type with options applied.
func New(t Type, payload json.RawMessage, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	now := time.Now().UTC()
	scheduled := o.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	return &Job{
		Entity:      jobs.NewEntity(),
		ID:          id.NewJobID(),
		Type:        t,
		Payload:     payload,
		State:       StatePending,
		Priority:    o.Priority,
		StoreID:     o.StoreID,
		UserID:      o.UserID,
		MaxRetries:  o.MaxRetries,
		ScheduledAt: scheduled,
		Timeout:     o.Timeout,
	}
}

// NewSystem builds a job for direct invocation outside the queue. Its
// synthetic ID keeps it out of job history.
func NewSystem(t Type, payload json.RawMessage) *Job {
	j := New(t, payload, WithMaxRetries(0))
	j.ID = id.NewSystemJobID()
	return j
}

// CanRetry reports whether a failed attempt has retry budget left.
func (j *Job) CanRetry() bool { return j.RetryCount < j.MaxRetries }

// Elapsed returns the run time of a started job, measured to now for
// jobs still running.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	for _, end := range []*time.Time{j.CompletedAt, j.FailedAt, j.CancelledAt} {
		if end != nil {
			return end.Sub(*j.StartedAt)
		}
	}
	return now.Sub(*j.StartedAt)
}
