package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StorePlaceholder is replaced by the store ID in a DSN template.
const StorePlaceholder = "{store_id}"

// PoolResolver opens one pgx pool per tenant from a DSN template such as
// "postgres://app@db/store_{store_id}" and reuses it for later jobs.
type PoolResolver struct {
	template string
	maxConns int32
	logger   *slog.Logger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// PoolOption configures a PoolResolver.
type PoolOption func(*PoolResolver)

// WithMaxConns caps each tenant pool.
func WithMaxConns(n int32) PoolOption { return func(r *PoolResolver) { r.maxConns = n } }

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption { return func(r *PoolResolver) { r.logger = l } }

// NewPoolResolver creates a resolver. The template must contain
// StorePlaceholder.
func NewPoolResolver(template string, opts ...PoolOption) (*PoolResolver, error) {
	if !strings.Contains(template, StorePlaceholder) {
		return nil, fmt.Errorf("tenant: dsn template must contain %s", StorePlaceholder)
	}
	r := &PoolResolver{
		template: template,
		maxConns: 4,
		logger:   slog.Default(),
		pools:    make(map[string]*pgxpool.Pool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DSN renders the connection string of storeID.
func (r *PoolResolver) DSN(storeID string) (string, error) {
	if storeID == "" {
		return "", fmt.Errorf("tenant: store id is required")
	}
	for _, c := range storeID {
		if !(c == '-' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return "", fmt.Errorf("tenant: invalid store id %q", storeID)
		}
	}
	return strings.ReplaceAll(r.template, StorePlaceholder, storeID), nil
}

// DB returns the pool of storeID, opening it on first use.
func (r *PoolResolver) DB(ctx context.Context, storeID string) (DB, error) {
	dsn, err := r.DSN(storeID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[storeID]; ok {
		return p, nil
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("tenant: parse dsn for %s: %w", storeID, err)
	}
	if r.maxConns > 0 {
		cfg.MaxConns = r.maxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tenant: connect %s: %w", storeID, err)
	}
	r.pools[storeID] = p
	r.logger.Info("opened tenant pool", slog.String("store_id", storeID))
	return p, nil
}

// Close closes every tenant pool.
func (r *PoolResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pools {
		p.Close()
		delete(r.pools, id)
	}
}
