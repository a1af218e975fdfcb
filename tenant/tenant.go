// Package tenant carries the store (tenant) identity on context.Context
// and defines how handlers obtain a tenant database connection.
package tenant

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type storeKey struct{}

// WithStoreID attaches a store ID to ctx. An empty ID returns ctx
// unchanged.
func WithStoreID(ctx context.Context, storeID string) context.Context {
	if storeID == "" {
		return ctx
	}
	return context.WithValue(ctx, storeKey{}, storeID)
}

// StoreID returns the store ID carried by ctx, or "".
func StoreID(ctx context.Context) string {
	s, _ := ctx.Value(storeKey{}).(string)
	return s
}

// DB is the subset of a pgx pool handlers run tenant queries through.
// The connection is shared with other jobs of the same tenant; handlers
// rely on single-statement atomicity, not job-level locking.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver returns the database connection of a tenant.
type Resolver interface {
	DB(ctx context.Context, storeID string) (DB, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, storeID string) (DB, error)

// DB calls f.
func (f ResolverFunc) DB(ctx context.Context, storeID string) (DB, error) { return f(ctx, storeID) }
