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

// Charge is one store's daily credit deduction.
type Charge struct {
	StoreID string  `json:"store_id"`
	Credits float64 `json:"credits"`
}

// CreditBiller charges stores for their daily usage.
type CreditBiller interface {
	ActiveStores(ctx context.Context) ([]string, error)
	Charge(ctx context.Context, storeID string, day time.Time) (Charge, error)
}

// CreditPayload is the credit_deduction job payload. Date defaults to
// today in UTC.
type CreditPayload struct {
	Date string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// CreditResult is returned by the credit_deduction handler.
type CreditResult struct {
	Date    string   `json:"date"`
	Charged int      `json:"charged"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Credits float64  `json:"credits"`
	Errors  []string `json:"errors,omitempty"`
}

// CreditDeduction charges every active store once per day.
type CreditDeduction struct {
	biller CreditBiller
	now    func() time.Time
}

// NewCreditDeduction creates the task.
func NewCreditDeduction(biller CreditBiller) *CreditDeduction {
	return &CreditDeduction{biller: biller, now: func() time.Time { return time.Now().UTC() }}
}

// Register binds the task to job.TypeCreditDeduction.
func (c *CreditDeduction) Register(r *handler.Registry) {
	handler.Register(r, handler.NewDefinition(job.TypeCreditDeduction, c.Handle))
}

// Handle charges each active store. Per-store failures are data; the job
// fails only when every attempted charge failed.
func (c *CreditDeduction) Handle(hc *handler.Context, p CreditPayload) (any, error) {
	day := c.now().Truncate(24 * time.Hour)
	if p.Date != "" {
		var err error
		if day, err = time.Parse(time.DateOnly, p.Date); err != nil {
			return nil, jobs.InvalidPayload("date", err)
		}
	}

	stores, err := c.biller.ActiveStores(hc.Context())
	if err != nil {
		return nil, jobs.Downstream("list active stores", err)
	}

	outcomes, err := handler.BatchProcess(hc, stores, 0,
		func(ctx context.Context, storeID string, _ int) (Charge, error) {
			ch, err := c.biller.Charge(ctx, storeID, day)
			if err != nil {
				return ch, fmt.Errorf("store %s: %w", storeID, err)
			}
			return ch, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	res := CreditResult{Date: day.Format(time.DateOnly), Total: len(stores)}
	for _, o := range outcomes {
		if !o.OK() {
			res.Failed++
			res.Errors = batch.AppendError(res.Errors, o.Err.Error())
			continue
		}
		res.Charged++
		res.Credits += o.Value.Credits
	}
	hc.Logger().Info("daily credits deducted",
		slog.String("date", res.Date),
		slog.Int("charged", res.Charged),
		slog.Int("failed", res.Failed),
	)
	if res.Total > 0 && res.Charged == 0 {
		return nil, jobs.Downstream("credit deduction",
			fmt.Errorf("all %d charges failed: %s", res.Total, res.Errors[0]))
	}
	return res, nil
}
