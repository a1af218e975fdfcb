package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// EnqueueJobRequest is the body of POST /v1/jobs.
type EnqueueJobRequest struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	StoreID      string          `json:"store_id,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	MaxRetries   *int            `json:"max_retries,omitempty"`
	DelaySeconds int             `json:"delay_seconds,omitempty"`
}

// CancelJobRequest is the body of POST /v1/jobs/:id/cancel.
type CancelJobRequest struct {
	Reason string `json:"reason"`
}

// JobCountsResponse counts jobs per state.
type JobCountsResponse struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Cancelling int64 `json:"cancelling"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

func (a *API) enqueueJob(c echo.Context) error {
	var req EnqueueJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	t, err := job.ParseType(req.Type)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DelaySeconds < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "delay_seconds must not be negative")
	}

	opts := []job.Option{job.WithStoreID(req.StoreID), job.WithPriority(req.Priority)}
	if req.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*req.MaxRetries))
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, job.WithScheduledAt(time.Now().UTC().Add(time.Duration(req.DelaySeconds)*time.Second)))
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	j, err := a.eng.EnqueueRaw(c.Request().Context(), t, payload, opts...)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusCreated, j)
}

func (a *API) listJobs(c echo.Context) error {
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	opts := job.ListOpts{
		State:   job.State(c.QueryParam("state")),
		StoreID: c.QueryParam("store_id"),
		Limit:   limit,
		Offset:  offset,
	}
	if t := c.QueryParam("type"); t != "" {
		if opts.Type, err = job.ParseType(t); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	list, err := a.eng.Store().ListJobs(c.Request().Context(), opts)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if list == nil {
		list = []*job.Job{}
	}
	return c.JSON(http.StatusOK, list)
}

func (a *API) getJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		return badID(err)
	}
	j, err := a.eng.Job(c.Request().Context(), jobID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, j)
}

func (a *API) jobHistory(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		return badID(err)
	}
	entries, err := a.eng.History(c.Request().Context(), jobID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (a *API) cancelJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		return badID(err)
	}
	var req CancelJobRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by administrator"
	}

	j, err := a.eng.Cancel(c.Request().Context(), jobID, req.Reason)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusAccepted, j)
}

func (a *API) jobCounts(c echo.Context) error {
	ctx := c.Request().Context()
	storeID := c.QueryParam("store_id")

	var resp JobCountsResponse
	for state, dst := range map[job.State]*int64{
		job.StatePending:    &resp.Pending,
		job.StateRunning:    &resp.Running,
		job.StateCancelling: &resp.Cancelling,
		job.StateCompleted:  &resp.Completed,
		job.StateFailed:     &resp.Failed,
		job.StateCancelled:  &resp.Cancelled,
	} {
		n, err := a.eng.Store().CountJobs(ctx, job.ListOpts{State: state, StoreID: storeID})
		if err != nil {
			return fmt.Errorf("count jobs (%s): %w", state, err)
		}
		*dst = n
	}
	return c.JSON(http.StatusOK, resp)
}
