package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/id"
)

// RunCronResponse is returned by POST /v1/crons/:id/run.
type RunCronResponse struct {
	JobID id.JobID `json:"job_id"`
}

func (a *API) listCrons(c echo.Context) error {
	list, err := a.eng.Store().ListCrons(c.Request().Context(), c.QueryParam("store_id"))
	if err != nil {
		return fmt.Errorf("list crons: %w", err)
	}
	if list == nil {
		list = []*cron.Definition{}
	}
	return c.JSON(http.StatusOK, list)
}

func (a *API) getCron(c echo.Context) error {
	d, err := a.loadCron(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (a *API) cronExecutions(c echo.Context) error {
	cronID, err := id.ParseCronID(c.Param("id"))
	if err != nil {
		return badID(err)
	}
	limit, _, err := page(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := a.eng.Store().GetCron(ctx, cronID); err != nil {
		return mapStoreError(err)
	}
	execs, err := a.eng.Store().ListExecutions(ctx, cronID, limit)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	if execs == nil {
		execs = []*cron.Execution{}
	}
	return c.JSON(http.StatusOK, execs)
}

func (a *API) runCron(c echo.Context) error {
	cronID, err := id.ParseCronID(c.Param("id"))
	if err != nil {
		return badID(err)
	}
	jobID, err := a.eng.RunCron(c.Request().Context(), cronID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusAccepted, RunCronResponse{JobID: jobID})
}

func (a *API) pauseCron(c echo.Context) error { return a.setPaused(c, true) }

func (a *API) resumeCron(c echo.Context) error { return a.setPaused(c, false) }

func (a *API) setPaused(c echo.Context, paused bool) error {
	d, err := a.loadCron(c)
	if err != nil {
		return err
	}
	d.IsPaused = paused
	d.Touch()
	if err := a.eng.Store().UpdateCron(c.Request().Context(), d); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (a *API) loadCron(c echo.Context) (*cron.Definition, error) {
	cronID, err := id.ParseCronID(c.Param("id"))
	if err != nil {
		return nil, badID(err)
	}
	d, err := a.eng.Store().GetCron(c.Request().Context(), cronID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return d, nil
}
