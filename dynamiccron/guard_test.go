package dynamiccron_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/dynamiccron"
	"github.com/assaka/daino-jobs/script"
	"github.com/assaka/daino-jobs/tenant"
)

// execRecorder captures the statements sent to a tenant database.
type execRecorder struct {
	sql  []string
	args [][]any
}

func (r *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	return pgconn.NewCommandTag("DELETE 2"), nil
}

func (r *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("unexpected Query")
}

func (r *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected QueryRow")
}

func recorderGuard(db *execRecorder) *dynamiccron.Guard {
	return dynamiccron.NewGuard(tenant.ResolverFunc(func(context.Context, string) (tenant.DB, error) {
		return db, nil
	}))
}

func TestGuardBoundsMutations(t *testing.T) {
	cases := []struct {
		name      string
		q         script.Query
		wantLimit int
	}{
		{"delete default", script.Query{Table: "sessions", Operation: "delete",
			Where: map[string]any{"store_id": "s1"}}, dynamiccron.DefaultCleanupLimit},
		{"delete explicit", script.Query{Table: "sessions", Operation: "delete",
			Where: map[string]any{"store_id": "s1"}, Limit: 25}, 25},
		{"update default", script.Query{Table: "sessions", Operation: "update",
			Where: map[string]any{"store_id": "s1"}, Set: map[string]any{"expired": true}}, dynamiccron.DefaultCleanupLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &execRecorder{}
			out, err := recorderGuard(db).Query(context.Background(), testStore, tc.q)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(db.sql) != 1 {
				t.Fatalf("statements = %d, want 1", len(db.sql))
			}
			sql := db.sql[0]
			if !strings.Contains(sql, "WHERE ctid IN (SELECT ctid FROM") || !strings.Contains(sql, "LIMIT $") {
				t.Errorf("sql = %q, want ctid-bounded statement", sql)
			}
			args := db.args[0]
			if got := args[len(args)-1]; got != tc.wantLimit {
				t.Errorf("limit arg = %v, want %d", got, tc.wantLimit)
			}
			if got := out.(map[string]any)["rows_affected"]; got != int64(2) {
				t.Errorf("rows_affected = %v, want 2", got)
			}
		})
	}
}

func TestGuardRejectsOversizedMutation(t *testing.T) {
	db := &execRecorder{}
	_, err := recorderGuard(db).Query(context.Background(), testStore, script.Query{
		Table: "sessions", Operation: "delete",
		Where: map[string]any{"store_id": "s1"}, Limit: dynamiccron.MaxCleanupLimit + 1,
	})
	if got := jobs.KindOf(err); got != jobs.KindConfiguration {
		t.Fatalf("kind = %q, want %q", got, jobs.KindConfiguration)
	}
	if len(db.sql) != 0 {
		t.Errorf("statements = %d, want 0", len(db.sql))
	}
}
