package cron

import (
	"encoding/json"
	"fmt"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/id"
)

// JobType is the closed set of kinds a definition can dispatch. Adding a
// kind requires a new dispatch branch.
type JobType string

const (
	JobTypeWebhook       JobType = "webhook"
	JobTypeEmail         JobType = "email"
	JobTypeDatabaseQuery JobType = "database_query"
	JobTypeAPICall       JobType = "api_call"
	JobTypeCleanup       JobType = "cleanup"
	JobTypeAkeneoImport  JobType = "akeneo_import"
	JobTypePluginJob     JobType = "plugin_job"
	JobTypeShopifySync   JobType = "shopify_sync"
	JobTypeSystemJob     JobType = "system_job"
	JobTypeTokenRefresh  JobType = "token_refresh"
)

var jobTypes = []JobType{
	JobTypeWebhook, JobTypeEmail, JobTypeDatabaseQuery, JobTypeAPICall,
	JobTypeCleanup, JobTypeAkeneoImport, JobTypePluginJob, JobTypeShopifySync,
	JobTypeSystemJob, JobTypeTokenRefresh,
}

// JobTypes returns every dispatchable kind.
func JobTypes() []JobType {
	out := make([]JobType, len(jobTypes))
	copy(out, jobTypes)
	return out
}

// Valid reports whether t is a known kind.
func (t JobType) Valid() bool {
	for _, k := range jobTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ScheduleType distinguishes recurring schedules from one-shot runs.
type ScheduleType string

const (
	ScheduleRecurring ScheduleType = "recurring"
	ScheduleOnce      ScheduleType = "once"
)

// Definition is a stored cron job: what to run, for which tenant, and
// the counters gating whether it may run again.
type Definition struct {
	jobs.Entity

	ID      id.CronID `json:"id"`
	Name    string    `json:"name"`
	JobType JobType   `json:"job_type"`
	// Configuration holds the kind-specific parameters.
	Configuration json.RawMessage `json:"configuration,omitempty"`
	// Handler and HandlerMethod name a registered plugin method.
	Handler       string `json:"handler,omitempty"`
	HandlerMethod string `json:"handler_method,omitempty"`
	// Script is an inline automation program attached to the definition.
	Script       json.RawMessage `json:"script,omitempty"`
	StoreID      string          `json:"store_id,omitempty"`
	Schedule     string          `json:"schedule"`
	ScheduleType ScheduleType    `json:"schedule_type"`

	IsActive bool `json:"is_active"`
	IsPaused bool `json:"is_paused"`
	// MaxRuns and MaxFailures of zero mean unlimited.
	MaxRuns             int `json:"max_runs,omitempty"`
	MaxFailures         int `json:"max_failures,omitempty"`
	RunCount            int `json:"run_count"`
	FailureCount        int `json:"failure_count"`
	ConsecutiveFailures int `json:"consecutive_failures"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// NewDefinition returns an active recurring definition.
func NewDefinition(name string, t JobType, schedule string) *Definition {
	return &Definition{
		Entity:       jobs.NewEntity(),
		ID:           id.NewCronID(),
		Name:         name,
		JobType:      t,
		Schedule:     schedule,
		ScheduleType: ScheduleRecurring,
		IsActive:     true,
	}
}

// CanRun reports whether the definition may run. It is false when the
// definition is inactive or paused, has reached MaxRuns, or has tripped
// the consecutive failure threshold.
func (d *Definition) CanRun() bool { return d.SkipReason() == "" }

// SkipReason explains why CanRun is false, or returns "".
func (d *Definition) SkipReason() string {
	switch {
	case !d.IsActive:
		return "inactive"
	case d.IsPaused:
		return "paused"
	case d.MaxRuns > 0 && d.RunCount >= d.MaxRuns:
		return "max runs reached"
	case d.MaxFailures > 0 && d.ConsecutiveFailures >= d.MaxFailures:
		return "too many consecutive failures"
	}
	return ""
}

// Due reports whether the definition is eligible to fire at now.
func (d *Definition) Due(now time.Time) bool {
	return d.CanRun() && d.NextRunAt != nil && !d.NextRunAt.After(now)
}

// MarkFired records a scheduler firing.
func (d *Definition) MarkFired(at time.Time, next *time.Time) {
	d.RunCount++
	d.LastRunAt = &at
	d.NextRunAt = next
	d.Touch()
}

// MarkSucceeded resets the failure streak. One-shot definitions are
// deactivated and never run again.
func (d *Definition) MarkSucceeded() {
	d.ConsecutiveFailures = 0
	if d.ScheduleType == ScheduleOnce {
		d.IsActive = false
		d.NextRunAt = nil
	}
	d.Touch()
}

// MarkFailed extends the failure streak.
func (d *Definition) MarkFailed() {
	d.FailureCount++
	d.ConsecutiveFailures++
	d.Touch()
}

// Validate checks the kind, schedule type and schedule expression.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return jobs.Misconfigured("cron.validate", "name is required")
	}
	if !d.JobType.Valid() {
		return jobs.Misconfigured("cron.validate", fmt.Sprintf("unknown job_type %q", d.JobType))
	}
	switch d.ScheduleType {
	case ScheduleRecurring, ScheduleOnce:
	case "":
		d.ScheduleType = ScheduleRecurring
	default:
		return jobs.Misconfigured("cron.validate", fmt.Sprintf("unknown schedule_type %q", d.ScheduleType))
	}
	if _, err := NextRun(d.Schedule, d.ScheduleType, time.Now().UTC()); err != nil {
		return jobs.Misconfigured("cron.validate", err.Error())
	}
	return nil
}

// Payload is the job payload of a dispatcher job.
type Payload struct {
	CronJobID id.CronID `json:"cron_job_id" validate:"required"`
}
