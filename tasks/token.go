package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/batch"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/job"
)

// Token is an integration credential that expires.
type Token struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	Integration string    `json:"integration"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenSource lists and refreshes integration tokens.
type TokenSource interface {
	// ExpiringTokens returns tokens expiring before deadline. An empty
	// storeID lists every tenant.
	ExpiringTokens(ctx context.Context, storeID string, deadline time.Time) ([]Token, error)
	Refresh(ctx context.Context, t Token) error
}

// TokenRefreshPayload is the token_refresh job payload.
type TokenRefreshPayload struct {
	StoreID   string `json:"store_id,omitempty"`
	BatchSize int    `json:"batch_size,omitempty" validate:"gte=0,lte=100"`
}

// RefreshResult is returned by the token_refresh handler.
type RefreshResult struct {
	Refreshed int      `json:"refreshed"`
	Failed    int      `json:"failed"`
	Total     int      `json:"total"`
	Errors    []string `json:"errors,omitempty"`
}

// TokenRefresh refreshes tokens that are about to expire.
type TokenRefresh struct {
	source TokenSource
	window time.Duration
	now    func() time.Time
}

// NewTokenRefresh creates the task. Tokens expiring within window are
// refreshed.
func NewTokenRefresh(source TokenSource, window time.Duration) *TokenRefresh {
	if window <= 0 {
		window = time.Hour
	}
	return &TokenRefresh{source: source, window: window, now: func() time.Time { return time.Now().UTC() }}
}

// Register binds the task to job.TypeTokenRefresh.
func (t *TokenRefresh) Register(r *handler.Registry) {
	handler.Register(r, handler.NewDefinition(job.TypeTokenRefresh, t.Handle))
}

// Handle refreshes in chunks of p.BatchSize. Cancellation is observed
// between chunks.
func (t *TokenRefresh) Handle(hc *handler.Context, p TokenRefreshPayload) (any, error) {
	storeID := p.StoreID
	if storeID == "" {
		storeID = hc.StoreID()
	}
	size := p.BatchSize
	if size == 0 {
		size = 10
	}

	tokens, err := t.source.ExpiringTokens(hc.Context(), storeID, t.now().Add(t.window))
	if err != nil {
		return nil, jobs.Downstream("list expiring tokens", err)
	}
	hc.UpdateProgress(0, fmt.Sprintf("Refreshing %d tokens", len(tokens)))

	outcomes, err := handler.BatchProcess(hc, tokens, size,
		func(ctx context.Context, tok Token, _ int) (struct{}, error) {
			if err := t.source.Refresh(ctx, tok); err != nil {
				return struct{}{}, fmt.Errorf("token %s (%s): %w", tok.ID, tok.Integration, err)
			}
			return struct{}{}, nil
		}, nil)
	if err != nil {
		hc.Logger().Info("token refresh stopped",
			slog.Int("processed", len(outcomes)),
			slog.Int("total", len(tokens)),
		)
		return nil, err
	}

	sum := batch.Summarize(outcomes)
	return RefreshResult{
		Refreshed: sum.Succeeded,
		Failed:    sum.Failed,
		Total:     len(tokens),
		Errors:    sum.Errors,
	}, nil
}
