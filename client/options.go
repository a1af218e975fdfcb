package client

import (
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.r.SetTimeout(d) }
}

// WithRetry retries failed requests with resty's backoff between
// waitMin and waitMax.
func WithRetry(count int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.r.SetRetryCount(count).
			SetRetryWaitTime(waitMin).
			SetRetryMaxWaitTime(waitMax)
	}
}

// WithResty replaces the underlying resty client. Its base URL is kept
// when set.
func WithResty(r *resty.Client) Option {
	return func(c *Client) {
		if r.BaseURL == "" {
			r.SetBaseURL(c.r.BaseURL)
		}
		c.r = r
	}
}
