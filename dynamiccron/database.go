package dynamiccron

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/script"
	"github.com/assaka/daino-jobs/tenant"
)

// DefaultAllowedTables is the table allow-list used when none is
// configured.
var DefaultAllowedTables = []string{
	"job_history",
	"cron_job_executions",
	"abandoned_carts",
	"sessions",
	"email_logs",
	"webhook_logs",
	"import_statistics",
}

// Operations accepted by database_query definitions and db_query steps.
const (
	OpSelect = "select"
	OpCount  = "count"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Row bounds for deleting and updating statements. Cleanup and the
// update and delete operations of database_query share them.
const (
	DefaultCleanupLimit    = 1000
	MaxCleanupLimit        = 10000
	DefaultTimestampColumn = "created_at"
)

const (
	defaultSelectLimit = 100
	maxSelectLimit     = 1000
)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func tableSet(tables []string) map[string]struct{} {
	m := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		m[t] = struct{}{}
	}
	return m
}

// Guard runs allow-listed statements against tenant databases. Every
// request is validated before a connection is resolved, so a rejected
// request never touches a database.
type Guard struct {
	resolver tenant.Resolver
	tables   map[string]struct{}
}

// NewGuard creates a Guard over resolver. With no tables the default
// allow-list applies.
func NewGuard(resolver tenant.Resolver, tables ...string) *Guard {
	if len(tables) == 0 {
		tables = DefaultAllowedTables
	}
	return &Guard{resolver: resolver, tables: tableSet(tables)}
}

// Tables returns the allow-list, sorted.
func (g *Guard) Tables() []string {
	out := make([]string, 0, len(g.tables))
	for t := range g.tables {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (g *Guard) checkTable(op, table string) error {
	if _, ok := g.tables[table]; !ok {
		return jobs.Misconfigured(op, fmt.Sprintf("table %q is not allowed", table))
	}
	return nil
}

func checkColumns(op string, cols map[string]any) error {
	for c := range cols {
		if !columnPattern.MatchString(c) {
			return jobs.Misconfigured(op, fmt.Sprintf("invalid column name %q", c))
		}
	}
	return nil
}

func (g *Guard) db(ctx context.Context, op, storeID string) (tenant.DB, error) {
	if g.resolver == nil {
		return nil, jobs.Misconfigured(op, "tenant database not configured")
	}
	if storeID == "" {
		return nil, jobs.Misconfigured(op, "store id required for tenant database access")
	}
	db, err := g.resolver.DB(ctx, storeID)
	if err != nil {
		return nil, jobs.Downstream(op+": resolve tenant database", err)
	}
	return db, nil
}

// Validate checks q against the allow-list without running it.
func (g *Guard) Validate(q script.Query) error {
	const op = "database query"
	if err := g.checkTable(op, q.Table); err != nil {
		return err
	}
	switch q.Operation {
	case OpSelect, OpCount:
	case OpUpdate:
		if len(q.Set) == 0 {
			return jobs.Misconfigured(op, "update requires set")
		}
		if len(q.Where) == 0 {
			return jobs.Misconfigured(op, "update requires where")
		}
	case OpDelete:
		if len(q.Where) == 0 {
			return jobs.Misconfigured(op, "delete requires where")
		}
	default:
		return jobs.Misconfigured(op, fmt.Sprintf("operation %q is not allowed", q.Operation))
	}
	if err := checkColumns(op, q.Where); err != nil {
		return err
	}
	if err := checkColumns(op, q.Set); err != nil {
		return err
	}
	if q.Limit < 0 {
		return jobs.Misconfigured(op, "limit must not be negative")
	}
	if (q.Operation == OpUpdate || q.Operation == OpDelete) && q.Limit > MaxCleanupLimit {
		return jobs.Misconfigured(op, fmt.Sprintf("limit must not exceed %d for %s", MaxCleanupLimit, q.Operation))
	}
	return nil
}

// Query validates and runs q in storeID's database. It satisfies
// script.Querier.
func (g *Guard) Query(ctx context.Context, storeID string, q script.Query) (any, error) {
	if q.Operation == "" {
		q.Operation = OpSelect
	}
	if err := g.Validate(q); err != nil {
		return nil, err
	}
	op := "database " + q.Operation
	db, err := g.db(ctx, op, storeID)
	if err != nil {
		return nil, err
	}

	table := pgx.Identifier{q.Table}.Sanitize()
	var args []any
	where := whereClause(q.Where, &args)

	switch q.Operation {
	case OpSelect:
		limit := q.Limit
		if limit == 0 {
			limit = defaultSelectLimit
		}
		limit = min(limit, maxSelectLimit)
		args = append(args, limit)
		sql := fmt.Sprintf("SELECT * FROM %s%s LIMIT $%d", table, where, len(args))
		rows, err := db.Query(ctx, sql, args...)
		if err != nil {
			return nil, jobs.Downstream(op, err)
		}
		out, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return nil, jobs.Downstream(op, err)
		}
		return map[string]any{"rows": out, "count": len(out)}, nil

	case OpCount:
		var n int64
		sql := fmt.Sprintf("SELECT count(*) FROM %s%s", table, where)
		if err := db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
			return nil, jobs.Downstream(op, err)
		}
		return map[string]any{"count": n}, nil

	case OpUpdate:
		var setArgs []any
		set := assignments(q.Set, &setArgs)
		where := whereClause(q.Where, &setArgs)
		setArgs = append(setArgs, mutationLimit(q.Limit))
		sql := fmt.Sprintf("UPDATE %s SET %s WHERE ctid IN (SELECT ctid FROM %s%s LIMIT $%d)",
			table, set, table, where, len(setArgs))
		tag, err := db.Exec(ctx, sql, setArgs...)
		if err != nil {
			return nil, jobs.Downstream(op, err)
		}
		return map[string]any{"rows_affected": tag.RowsAffected()}, nil

	default: // OpDelete
		args = append(args, mutationLimit(q.Limit))
		sql := fmt.Sprintf("DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s%s LIMIT $%d)",
			table, table, where, len(args))
		tag, err := db.Exec(ctx, sql, args...)
		if err != nil {
			return nil, jobs.Downstream(op, err)
		}
		return map[string]any{"rows_affected": tag.RowsAffected()}, nil
	}
}

func mutationLimit(limit int) int {
	if limit == 0 {
		return DefaultCleanupLimit
	}
	return limit
}

// Cleanup deletes at most limit rows of table whose column is older than
// cutoff.
func (g *Guard) Cleanup(ctx context.Context, storeID, table, column string, cutoff time.Time, limit int) (int64, error) {
	const op = "database cleanup"
	if err := g.checkTable(op, table); err != nil {
		return 0, err
	}
	if !columnPattern.MatchString(column) {
		return 0, jobs.Misconfigured(op, fmt.Sprintf("invalid column name %q", column))
	}
	if limit <= 0 || limit > MaxCleanupLimit {
		return 0, jobs.Misconfigured(op, fmt.Sprintf("limit must be between 1 and %d", MaxCleanupLimit))
	}
	db, err := g.db(ctx, op, storeID)
	if err != nil {
		return 0, err
	}
	t := pgx.Identifier{table}.Sanitize()
	c := pgx.Identifier{column}.Sanitize()
	sql := fmt.Sprintf(
		"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE %s < $1 LIMIT $2)",
		t, t, c)
	tag, err := db.Exec(ctx, sql, cutoff, limit)
	if err != nil {
		return 0, jobs.Downstream(op, err)
	}
	return tag.RowsAffected(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func whereClause(where map[string]any, args *[]any) string {
	if len(where) == 0 {
		return ""
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		*args = append(*args, where[k])
		parts = append(parts, fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), len(*args)))
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func assignments(set map[string]any, args *[]any) string {
	parts := make([]string, 0, len(set))
	for _, k := range sortedKeys(set) {
		*args = append(*args, set[k])
		parts = append(parts, fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), len(*args)))
	}
	return strings.Join(parts, ", ")
}

type queryConfig struct {
	Table     string         `json:"table" validate:"required"`
	Operation string         `json:"operation"`
	Where     map[string]any `json:"where"`
	Set       map[string]any `json:"set"`
	Limit     int            `json:"limit"`
}

func (d *Dispatcher) runDatabaseQuery(hc *handler.Context, def *cron.Definition) (any, error) {
	cfg, err := decodeConfig[queryConfig](def)
	if err != nil {
		return nil, err
	}
	return d.guard.Query(hc.Context(), def.StoreID, script.Query{
		Table:     cfg.Table,
		Operation: cfg.Operation,
		Where:     cfg.Where,
		Set:       cfg.Set,
		Limit:     cfg.Limit,
	})
}

type cleanupConfig struct {
	Table           string `json:"table" validate:"required"`
	OlderThanDays   int    `json:"older_than_days" validate:"required,gt=0"`
	TimestampColumn string `json:"timestamp_column"`
	Limit           int    `json:"limit" validate:"gte=0"`
}

func (d *Dispatcher) runCleanup(hc *handler.Context, def *cron.Definition) (any, error) {
	cfg, err := decodeConfig[cleanupConfig](def)
	if err != nil {
		return nil, err
	}
	if cfg.TimestampColumn == "" {
		cfg.TimestampColumn = DefaultTimestampColumn
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultCleanupLimit
	}
	cutoff := d.now().AddDate(0, 0, -cfg.OlderThanDays)
	deleted, err := d.guard.Cleanup(hc.Context(), def.StoreID, cfg.Table, cfg.TimestampColumn, cutoff, cfg.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"table":   cfg.Table,
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}, nil
}
