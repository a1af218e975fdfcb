package dynamiccron

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/httpclient"
)

// maxResultBody bounds the response body kept in an execution result.
const maxResultBody = 2 << 10

type httpConfig struct {
	URL            string            `json:"url" validate:"required,url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Body           any               `json:"body"`
	TimeoutMS      int               `json:"timeout_ms" validate:"gte=0"`
	ExpectedStatus int               `json:"expected_status" validate:"gte=0"`
	FailOnError    bool              `json:"fail_on_error"`
}

type httpResult struct {
	Status     int               `json:"status"`
	Success    bool              `json:"success"`
	DurationMS int64             `json:"duration_ms"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

func (d *Dispatcher) runHTTP(hc *handler.Context, def *cron.Definition) (any, error) {
	cfg, err := decodeConfig[httpConfig](def)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
		if def.JobType == cron.JobTypeAPICall {
			method = http.MethodGet
		}
	}
	timeout := httpclient.DefaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	op := "dispatch " + string(def.JobType)
	resp, err := d.http.Do(hc.Context(), httpclient.Request{
		Method:  method,
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Body:    cfg.Body,
		Timeout: timeout,
	})
	if err != nil {
		if ctxErr := hc.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, jobs.Downstream(op, err)
	}

	ok := resp.OK()
	if cfg.ExpectedStatus != 0 {
		ok = resp.Status == cfg.ExpectedStatus
	}
	body := string(resp.Body)
	if len(body) > maxResultBody {
		body = body[:maxResultBody]
	}
	out := httpResult{
		Status:     resp.Status,
		Success:    ok,
		DurationMS: resp.Duration.Milliseconds(),
		Headers:    resp.Headers,
		Body:       body,
	}
	if !ok && cfg.FailOnError {
		return nil, jobs.Downstream(op, fmt.Errorf("%s %s returned status %d", method, cfg.URL, resp.Status))
	}
	return out, nil
}
