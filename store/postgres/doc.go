// Package postgres implements store.Store on PostgreSQL with pgx/v5.
// Jobs are claimed with FOR UPDATE SKIP LOCKED; the schema ships as
// embedded SQL migrations applied by Migrate.
package postgres
