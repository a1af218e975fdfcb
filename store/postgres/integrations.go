package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/importstats"
	"github.com/assaka/daino-jobs/plugin"
	"github.com/assaka/daino-jobs/tasks"
)

// ──────────────────────────────────────────────────
// Import statistics
// ──────────────────────────────────────────────────

// RecordStatistics inserts the statistics of one import run.
func (s *Store) RecordStatistics(ctx context.Context, st *importstats.Statistics) error {
	errs, err := json.Marshal(st.Errors)
	if err != nil {
		return fmt.Errorf("jobs/postgres: encode import errors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_statistics (
			id, job_id, store_id, integration, entity_type,
			total, imported, skipped, failed, errors, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		st.ID, st.JobID, st.StoreID, st.Integration, string(st.EntityType),
		st.Total, st.Imported, st.Skipped, st.Failed, json.RawMessage(errs), st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: record statistics: %w", err)
	}
	return nil
}

// ListStatistics returns the newest records first.
func (s *Store) ListStatistics(ctx context.Context, storeID, integration string, limit int) ([]*importstats.Statistics, error) {
	f := &filter{}
	if storeID != "" {
		f.add("store_id = ?", storeID)
	}
	if integration != "" {
		f.add("integration = ?", integration)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, store_id, integration, entity_type,
		       total, imported, skipped, failed, errors, created_at
		FROM import_statistics`+f.where()+`
		ORDER BY created_at DESC`+f.page(limit, 0),
		f.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list statistics: %w", err)
	}
	defer rows.Close()

	var out []*importstats.Statistics
	for rows.Next() {
		var (
			st   importstats.Statistics
			et   string
			errs json.RawMessage
		)
		if err := rows.Scan(
			&st.ID, &st.JobID, &st.StoreID, &st.Integration, &et,
			&st.Total, &st.Imported, &st.Skipped, &st.Failed, &errs, &st.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan statistics row: %w", err)
		}
		st.EntityType = importstats.EntityType(et)
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &st.Errors); err != nil {
				return nil, fmt.Errorf("jobs/postgres: decode import errors: %w", err)
			}
		}
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate statistics rows: %w", err)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Plugin scripts
// ──────────────────────────────────────────────────

// SaveScript inserts or replaces a script.
func (s *Store) SaveScript(ctx context.Context, sc *plugin.Script) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plugin_scripts (id, store_id, name, program, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			program = EXCLUDED.program,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		WHERE plugin_scripts.store_id = EXCLUDED.store_id`,
		sc.ID, sc.StoreID, sc.Name, sc.Program, sc.Enabled, sc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: save script: %w", err)
	}
	return nil
}

// GetScript returns a script owned by storeID.
func (s *Store) GetScript(ctx context.Context, storeID string, scriptID id.ScriptID) (*plugin.Script, error) {
	var sc plugin.Script
	err := s.pool.QueryRow(ctx, `
		SELECT id, store_id, name, program, enabled, created_at, updated_at
		FROM plugin_scripts
		WHERE id = $1 AND store_id = $2`,
		scriptID, storeID,
	).Scan(&sc.ID, &sc.StoreID, &sc.Name, &sc.Program, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrScriptNotFound
		}
		return nil, fmt.Errorf("jobs/postgres: get script: %w", err)
	}
	return &sc, nil
}

// ──────────────────────────────────────────────────
// Webhook deliveries
// ──────────────────────────────────────────────────

// RecordDelivery appends a webhook delivery log entry.
func (s *Store) RecordDelivery(ctx context.Context, d *tasks.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			webhook_id, store_id, event, url, status, success, error, duration, delivered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.WebhookID, d.StoreID, d.Event, d.URL, d.Status, d.Success, d.Error,
		d.Duration.Nanoseconds(), d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: record delivery: %w", err)
	}
	return nil
}
