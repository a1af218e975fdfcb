package tasks

import (
	"context"
	"fmt"
	"log/slog"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/batch"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/importstats"
	"github.com/assaka/daino-jobs/job"
)

// ImportRequest is what a catalog import relay hands to the integration.
type ImportRequest struct {
	StoreID    string
	EntityType importstats.EntityType
	Options    map[string]any
}

// ImportResult counts what an import run did.
type ImportResult struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Progress receives updates from an Importer. A non-nil return tells the
// importer to stop and return that error.
type Progress func(handler.ProgressUpdate) error

// Importer is an opaque catalog integration (Akeneo, Shopify).
type Importer interface {
	// Configured reports whether the tenant has set up the integration.
	Configured(ctx context.Context, storeID string) (bool, error)
	// Import runs one import. It returns the counters reached so far
	// alongside any error.
	Import(ctx context.Context, req ImportRequest, progress Progress) (*ImportResult, error)
}

// CatalogPayload is the payload of akeneo_import and shopify_sync jobs.
type CatalogPayload struct {
	StoreID    string                 `json:"store_id,omitempty"`
	EntityType importstats.EntityType `json:"entity_type,omitempty" validate:"omitempty,oneof=products categories attributes families"`
	Options    map[string]any         `json:"options,omitempty"`
}

// CatalogImport relays one job type to an Importer.
type CatalogImport struct {
	jobType     job.Type
	integration string
	importer    Importer
	stats       importstats.Store
}

// NewCatalogImport creates a relay for jobType. stats may be nil.
func NewCatalogImport(jobType job.Type, integration string, importer Importer, stats importstats.Store) *CatalogImport {
	return &CatalogImport{jobType: jobType, integration: integration, importer: importer, stats: stats}
}

// Register binds the relay to its job type.
func (c *CatalogImport) Register(r *handler.Registry) {
	handler.Register(r, handler.NewDefinition(c.jobType, c.Handle))
}

// Handle validates the integration, runs the import with banded progress
// and per-item cancellation, and records statistics for the run.
func (c *CatalogImport) Handle(hc *handler.Context, p CatalogPayload) (any, error) {
	storeID := p.StoreID
	if storeID == "" {
		storeID = hc.StoreID()
	}
	et := p.EntityType
	if et == "" {
		et = importstats.EntityProducts
	}

	err := hc.ValidateDependencies(handler.Dependency{
		Name:    c.integration,
		Message: c.integration + " integration is not configured for this store",
		Check: func(ctx context.Context) (bool, error) {
			if storeID == "" {
				return false, nil
			}
			return c.importer.Configured(ctx, storeID)
		},
	})
	if err != nil {
		return nil, err
	}

	relay := hc.RelayProgress(handler.ImportBands)
	progress := func(u handler.ProgressUpdate) error {
		relay(u)
		return hc.CheckAbort()
	}

	hc.UpdateProgress(0, "starting "+c.integration+" "+string(et)+" import")
	res, err := c.importer.Import(hc.Context(), ImportRequest{
		StoreID:    storeID,
		EntityType: et,
		Options:    p.Options,
	}, progress)
	if res != nil {
		c.record(hc, storeID, et, res)
	}
	if err != nil {
		if jobs.KindOf(err) != "" || hc.Context().Err() != nil {
			return nil, err
		}
		return nil, jobs.Downstream(c.integration+" import", err)
	}
	if res == nil {
		res = &ImportResult{}
	}

	hc.UpdateProgress(100, fmt.Sprintf("imported %d of %d %s", res.Imported, res.Total, et))
	out := *res
	out.Errors = batch.Preview(out.Errors)
	return out, nil
}

func (c *CatalogImport) record(hc *handler.Context, storeID string, et importstats.EntityType, res *ImportResult) {
	if c.stats == nil {
		return
	}
	s := importstats.New(hc.Job().ID, storeID, c.integration, et)
	s.Total, s.Imported, s.Skipped, s.Failed = res.Total, res.Imported, res.Skipped, res.Failed
	s.Errors = batch.Preview(res.Errors)
	if err := c.stats.RecordStatistics(hc.Context(), s); err != nil {
		hc.Logger().Warn("failed to record import statistics", slog.String("error", err.Error()))
	}
}
