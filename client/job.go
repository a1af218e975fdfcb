package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

type enqueueRequest struct {
	Type         job.Type        `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	StoreID      string          `json:"store_id,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	MaxRetries   *int            `json:"max_retries,omitempty"`
	DelaySeconds int             `json:"delay_seconds,omitempty"`
}

// EnqueueOption configures an enqueue request.
type EnqueueOption func(*enqueueRequest)

// WithStoreID scopes the job to a tenant.
func WithStoreID(storeID string) EnqueueOption {
	return func(r *enqueueRequest) { r.StoreID = storeID }
}

// WithPriority sets the job priority.
func WithPriority(priority int) EnqueueOption {
	return func(r *enqueueRequest) { r.Priority = priority }
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) EnqueueOption {
	return func(r *enqueueRequest) { r.MaxRetries = &n }
}

// WithDelay defers the job by whole seconds.
func WithDelay(seconds int) EnqueueOption {
	return func(r *enqueueRequest) { r.DelaySeconds = seconds }
}

// Enqueue submits a job.
func (c *Client) Enqueue(ctx context.Context, t job.Type, payload any, opts ...EnqueueOption) (*job.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req := enqueueRequest{Type: t, Payload: raw}
	for _, opt := range opts {
		opt(&req)
	}
	var j job.Job
	if err := c.do(ctx, "POST", "/v1/jobs", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, "GET", "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs lists jobs matching opts.
func (c *Client) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Type != "" {
		q.Set("type", string(opts.Type))
	}
	if opts.StoreID != "" {
		q.Set("store_id", opts.StoreID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []*job.Job
	if err := c.do(ctx, "GET", path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// History returns the execution history of a job.
func (c *Client) History(ctx context.Context, jobID id.JobID) ([]*history.Entry, error) {
	var entries []*history.Entry
	if err := c.do(ctx, "GET", "/v1/jobs/"+jobID.String()+"/history", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CancelJob requests cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	var j job.Job
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, "POST", "/v1/jobs/"+jobID.String()+"/cancel", body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// RunCron enqueues a dispatcher job for a cron definition now.
func (c *Client) RunCron(ctx context.Context, cronID id.CronID) (id.JobID, error) {
	var resp struct {
		JobID id.JobID `json:"job_id"`
	}
	if err := c.do(ctx, "POST", "/v1/crons/"+cronID.String()+"/run", nil, &resp); err != nil {
		return id.Nil, err
	}
	return resp.JobID, nil
}

// PauseCron pauses a cron definition.
func (c *Client) PauseCron(ctx context.Context, cronID id.CronID) (*cron.Definition, error) {
	return c.cronAction(ctx, cronID, "pause")
}

// ResumeCron resumes a paused cron definition.
func (c *Client) ResumeCron(ctx context.Context, cronID id.CronID) (*cron.Definition, error) {
	return c.cronAction(ctx, cronID, "resume")
}

func (c *Client) cronAction(ctx context.Context, cronID id.CronID, action string) (*cron.Definition, error) {
	var d cron.Definition
	if err := c.do(ctx, "POST", "/v1/crons/"+cronID.String()+"/"+action, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
