// Package platform adapts the commerce backend's internal HTTP API to the
// collaborator interfaces the concrete tasks and the dispatcher need:
// token refresh, catalog imports, credit billing and email delivery.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/assaka/daino-jobs/dynamiccron"
	"github.com/assaka/daino-jobs/httpclient"
	"github.com/assaka/daino-jobs/tasks"
)

var (
	_ tasks.TokenSource  = (*Client)(nil)
	_ tasks.CreditBiller = (*Client)(nil)
	_ dynamiccron.Mailer = (*Client)(nil)
	_ tasks.Importer     = (*Importer)(nil)
)

// DefaultPollInterval is how often an import run is polled for progress.
const DefaultPollInterval = 2 * time.Second

// Client calls the backend API rooted at baseURL.
type Client struct {
	http    *httpclient.Client
	baseURL string
	poll    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the outbound client.
func WithHTTPClient(c *httpclient.Client) Option { return func(p *Client) { p.http = c } }

// WithPollInterval sets the import status polling interval.
func WithPollInterval(d time.Duration) Option { return func(p *Client) { p.poll = d } }

// New creates a Client. A non-empty token is sent as a bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		http:    httpclient.New(),
		baseURL: strings.TrimRight(baseURL, "/"),
		poll:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if token != "" {
		c.http.WithHeader("Authorization", "Bearer "+token)
	}
	return c
}

// call sends a request and decodes a 2xx JSON body into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.http.Do(ctx, httpclient.Request{Method: method, URL: c.baseURL + path, Body: body})
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("platform: %s %s: status %d", method, path, resp.Status)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("platform: decode %s: %w", path, err)
	}
	return nil
}

// ExpiringTokens implements tasks.TokenSource.
func (c *Client) ExpiringTokens(ctx context.Context, storeID string, deadline time.Time) ([]tasks.Token, error) {
	q := url.Values{"before": {deadline.UTC().Format(time.RFC3339)}}
	if storeID != "" {
		q.Set("store_id", storeID)
	}
	var out struct {
		Tokens []tasks.Token `json:"tokens"`
	}
	if err := c.call(ctx, http.MethodGet, "/internal/tokens/expiring?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// Refresh implements tasks.TokenSource.
func (c *Client) Refresh(ctx context.Context, t tasks.Token) error {
	return c.call(ctx, http.MethodPost, "/internal/tokens/"+url.PathEscape(t.ID)+"/refresh", nil, nil)
}

// ActiveStores implements tasks.CreditBiller.
func (c *Client) ActiveStores(ctx context.Context) ([]string, error) {
	var out struct {
		Stores []string `json:"stores"`
	}
	if err := c.call(ctx, http.MethodGet, "/internal/billing/active-stores", nil, &out); err != nil {
		return nil, err
	}
	return out.Stores, nil
}

// Charge implements tasks.CreditBiller.
func (c *Client) Charge(ctx context.Context, storeID string, day time.Time) (tasks.Charge, error) {
	var out tasks.Charge
	body := map[string]string{"store_id": storeID, "date": day.Format("2006-01-02")}
	if err := c.call(ctx, http.MethodPost, "/internal/billing/daily-charge", body, &out); err != nil {
		return tasks.Charge{}, err
	}
	if out.StoreID == "" {
		out.StoreID = storeID
	}
	return out, nil
}

// Send implements dynamiccron.Mailer.
func (c *Client) Send(ctx context.Context, e dynamiccron.Email) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/internal/email/send", e, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// Importer returns the catalog importer for one integration, such as
// "akeneo" or "shopify".
func (c *Client) Importer(integration string) *Importer {
	return &Importer{c: c, integration: integration}
}
