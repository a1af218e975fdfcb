package postgres

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// filter accumulates WHERE conditions with positional arguments.
type filter struct {
	conds []string
	args  []any
}

// add appends cond, where "?" stands for the next placeholder.
func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(f.args)), 1))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// page appends LIMIT/OFFSET clauses.
func (f *filter) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		f.args = append(f.args, limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(f.args)))
	}
	if offset > 0 {
		f.args = append(f.args, offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(f.args)))
	}
	return b.String()
}
