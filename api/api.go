// Package api exposes the admin HTTP surface of the job engine on echo:
// job inspection and cancellation, cron definition control and execution
// records.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/engine"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// API wires the admin handlers to an Engine.
type API struct {
	eng   *engine.Engine
	token string
}

// Option configures an API.
type Option func(*API)

// WithToken requires "Authorization: Bearer <token>" on every route.
func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns an echo instance with every route registered.
func (a *API) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	a.RegisterRoutes(e.Group(""))
	return e
}

// RegisterRoutes registers all routes under g.
func (a *API) RegisterRoutes(g *echo.Group) {
	v1 := g.Group("/v1")
	if a.token != "" {
		v1.Use(middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(a.token)) == 1, nil
		}))
	}

	v1.POST("/jobs", a.enqueueJob)
	v1.GET("/jobs", a.listJobs)
	v1.GET("/jobs/counts", a.jobCounts)
	v1.GET("/jobs/:id", a.getJob)
	v1.GET("/jobs/:id/history", a.jobHistory)
	v1.POST("/jobs/:id/cancel", a.cancelJob)

	v1.GET("/crons", a.listCrons)
	v1.GET("/crons/:id", a.getCron)
	v1.GET("/crons/:id/executions", a.cronExecutions)
	v1.POST("/crons/:id/run", a.runCron)
	v1.POST("/crons/:id/pause", a.pauseCron)
	v1.POST("/crons/:id/resume", a.resumeCron)
}

// mapStoreError converts sentinel and tagged errors to HTTP errors.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, jobs.ErrCronNotFound),
		errors.Is(err, jobs.ErrScriptNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case jobs.KindOf(err) == jobs.KindConfiguration:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return err
}

func badID(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid id: "+err.Error())
}

// page reads limit and offset query parameters.
func page(c echo.Context) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
	}
	return min(limit, maxPageSize), offset, nil
}
