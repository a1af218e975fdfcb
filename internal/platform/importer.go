package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/tasks"
)

// Importer runs catalog imports on the backend and relays their progress.
type Importer struct {
	c           *Client
	integration string
}

type importRun struct {
	ID       string                 `json:"id"`
	Done     bool                   `json:"done"`
	Progress handler.ProgressUpdate `json:"progress"`
	Result   *tasks.ImportResult    `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func (im *Importer) path(storeID string) string {
	return "/internal/stores/" + url.PathEscape(storeID) + "/integrations/" + url.PathEscape(im.integration)
}

// Configured implements tasks.Importer.
func (im *Importer) Configured(ctx context.Context, storeID string) (bool, error) {
	var out struct {
		Configured bool `json:"configured"`
	}
	if err := im.c.call(ctx, http.MethodGet, im.path(storeID), nil, &out); err != nil {
		return false, err
	}
	return out.Configured, nil
}

// Import implements tasks.Importer. It starts a run, then polls it and
// forwards each status as a progress update. When progress returns an
// error the run is cancelled on the backend.
func (im *Importer) Import(ctx context.Context, req tasks.ImportRequest, progress tasks.Progress) (*tasks.ImportResult, error) {
	body := map[string]any{"entity_type": req.EntityType, "options": req.Options}
	var run importRun
	if err := im.c.call(ctx, http.MethodPost, im.path(req.StoreID)+"/imports", body, &run); err != nil {
		return nil, err
	}
	runPath := im.path(req.StoreID) + "/imports/" + url.PathEscape(run.ID)

	ticker := time.NewTicker(im.c.poll)
	defer ticker.Stop()
	for {
		if run.Done {
			if run.Error != "" {
				return run.Result, errors.New(run.Error)
			}
			if run.Result == nil {
				run.Result = &tasks.ImportResult{}
			}
			return run.Result, nil
		}
		if run.Progress.Stage != "" {
			if err := progress(run.Progress); err != nil {
				im.cancel(runPath)
				return run.Result, err
			}
		}

		select {
		case <-ctx.Done():
			im.cancel(runPath)
			return run.Result, ctx.Err()
		case <-ticker.C:
		}
		if err := im.c.call(ctx, http.MethodGet, runPath, nil, &run); err != nil {
			return run.Result, fmt.Errorf("poll import %s: %w", run.ID, err)
		}
	}
}

// cancel is best-effort and must outlive the caller's context.
func (im *Importer) cancel(runPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = im.c.call(ctx, http.MethodPost, runPath+"/cancel", nil, nil)
}
