// Package httpclient wraps resty for the outbound calls jobs make:
// webhook and api_call dispatch, script http_fetch and webhook delivery.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a request when neither the client nor the request
// sets one.
const DefaultTimeout = 30 * time.Second

// ErrBodyTooLarge is returned when a response body exceeds
// Request.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("httpclient: response body exceeds limit")

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is sent as JSON unless it is a string or []byte.
	Body    any
	Timeout time.Duration
	// MaxBodyBytes caps the response body read into memory. Reading stops
	// at the cap and the call fails with ErrBodyTooLarge. Zero means no cap.
	MaxBodyBytes int64
}

// Response is the part of an HTTP response jobs record.
type Response struct {
	Status   int
	Headers  map[string]string
	Body     []byte
	Duration time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Client sends requests through resty. Retries are left to the caller.
type Client struct {
	r *resty.Client
}

// New creates a client with the default timeout.
func New() *Client {
	return &Client{r: resty.New().SetTimeout(DefaultTimeout)}
}

// NewWithResty wraps an existing resty client.
func NewWithResty(r *resty.Client) *Client {
	return &Client{r: r}
}

// WithHeader sets a header sent on every request.
func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// Raw returns the underlying resty client for advanced usage.
func (c *Client) Raw() *resty.Client { return c.r }

// Do sends req. Transport errors are returned as errors; any HTTP status,
// including 5xx, is returned as a Response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := c.r.R().SetContext(ctx).SetHeaders(req.Headers)
	switch b := req.Body.(type) {
	case nil:
	case string, []byte:
		r.SetBody(b)
	default:
		r.SetHeader("Content-Type", "application/json").SetBody(b)
	}

	if req.MaxBodyBytes > 0 {
		r.SetDoNotParseResponse(true)
	}

	start := time.Now()
	resp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}

	body := resp.Body()
	if req.MaxBodyBytes > 0 {
		body, err = readLimited(resp.RawBody(), req.MaxBodyBytes)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
		}
	}

	headers := make(map[string]string, len(resp.Header()))
	for k := range resp.Header() {
		headers[k] = resp.Header().Get(k)
	}
	return &Response{
		Status:   resp.StatusCode(),
		Headers:  headers,
		Body:     body,
		Duration: time.Since(start),
	}, nil
}

// readLimited reads at most limit bytes of rc and closes it.
func readLimited(rc io.ReadCloser, limit int64) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}
