// Package client is a Go client for the admin HTTP API served by the api
// package.
//
// Usage:
//
//	c := client.New("https://jobs.internal.example.com",
//	    client.WithToken("..."),
//	)
//
//	// Enqueue a job.
//	j, err := c.Enqueue(ctx, job.TypeWebhookDelivery, payload,
//	    client.WithStoreID("store-1"),
//	)
//
//	// Cancel it and read its history.
//	_, err = c.CancelJob(ctx, j.ID, "duplicate")
//	entries, err := c.History(ctx, j.ID)
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	jobs "github.com/assaka/daino-jobs"
)

// Client talks to a remote job engine over HTTP.
type Client struct {
	r      *resty.Client
	token  string
	logger *slog.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		r:      resty.New().SetBaseURL(baseURL).SetTimeout(defaultTimeout),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.token != "" {
		c.r.SetAuthToken(c.token)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jobs/client: %d %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the store sentinels so callers can
// use errors.Is(err, jobs.ErrJobNotFound).
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return errNotFound
	case http.StatusConflict:
		return jobs.ErrInvalidState
	}
	return nil
}

// errNotFound matches both job and cron lookups.
var errNotFound = notFound{}

type notFound struct{}

func (notFound) Error() string { return "jobs/client: not found" }

func (notFound) Is(target error) bool {
	return target == jobs.ErrJobNotFound || target == jobs.ErrCronNotFound
}

// do sends one request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.r.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("jobs/client: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body(), &msg)
		if msg.Message == "" {
			msg.Message = http.StatusText(resp.StatusCode())
		}
		c.logger.Debug("jobs api error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode()),
		)
		return &APIError{Status: resp.StatusCode(), Message: msg.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("jobs/client: decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
