package tasks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/batch"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/httpclient"
	"github.com/assaka/daino-jobs/job"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"


// Webhook is one subscriber endpoint.
type Webhook struct {
	ID     string `json:"id" validate:"required"`
	URL    string `json:"url" validate:"required,url"`
	Secret string `json:"secret,omitempty"`
}

// WebhookPayload is the webhook_delivery job payload.
type WebhookPayload struct {
	Event    string    `json:"event" validate:"required"`
	Data     any       `json:"data"`
	Webhooks []Webhook `json:"webhooks" validate:"dive"`
}

// Delivery is the log entry written for every attempted webhook.
type Delivery struct {
	WebhookID   string        `json:"webhook_id"`
	StoreID     string        `json:"store_id,omitempty"`
	Event       string        `json:"event"`
	URL         string        `json:"url"`
	Status      int           `json:"status"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	DeliveredAt time.Time     `json:"delivered_at"`
}

// DeliveryLog records webhook deliveries.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
}

// DeliveryResult is returned by the webhook_delivery handler.
type DeliveryResult struct {
	Sent   int      `json:"webhooksSent"`
	Failed int      `json:"webhooksFailed"`
	Total  int      `json:"total"`
	Errors []string `json:"errors,omitempty"`
}

// WebhookDelivery fans an event out to subscriber webhooks.
type WebhookDelivery struct {
	http      *httpclient.Client
	log       DeliveryLog
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

// NewWebhookDelivery creates the task. log may be nil.
func NewWebhookDelivery(client *httpclient.Client, log DeliveryLog) *WebhookDelivery {
	return &WebhookDelivery{
		http:      client,
		log:       log,
		batchSize: batch.DefaultSize,
		timeout:   10 * time.Second,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the task to job.TypeWebhookDelivery.
func (w *WebhookDelivery) Register(r *handler.Registry) {
	handler.Register(r, handler.NewDefinition(job.TypeWebhookDelivery, w.Handle))
}

// Handle delivers p to every webhook. Individual failures are reported in
// the result; the job fails only when every delivery failed.
func (w *WebhookDelivery) Handle(hc *handler.Context, p WebhookPayload) (any, error) {
	body, err := json.Marshal(map[string]any{
		"event":     p.Event,
		"data":      p.Data,
		"store_id":  hc.StoreID(),
		"timestamp": w.now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, jobs.InvalidPayload("encode webhook body", err)
	}

	outcomes, err := handler.BatchProcess(hc, p.Webhooks, w.batchSize,
		func(ctx context.Context, wh Webhook, _ int) (*Delivery, error) {
			return w.deliver(ctx, hc, p.Event, wh, body)
		}, nil)
	if err != nil {
		return nil, err
	}

	sum := batch.Summarize(outcomes)
	res := DeliveryResult{Sent: sum.Succeeded, Failed: sum.Failed, Total: len(p.Webhooks), Errors: sum.Errors}
	hc.Logger().Info("webhooks delivered",
		slog.String("event", p.Event),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
	)
	if res.Total > 0 && res.Sent == 0 {
		return nil, jobs.Downstream("webhook delivery",
			fmt.Errorf("all %d deliveries failed: %s", res.Total, res.Errors[0]))
	}
	return res, nil
}

func (w *WebhookDelivery) deliver(ctx context.Context, hc *handler.Context, event string, wh Webhook, body []byte) (*Delivery, error) {
	headers := map[string]string{
		"Content-Type":    "application/json",
		"X-Webhook-Event": event,
		"X-Webhook-Id":    wh.ID,
	}
	if wh.Secret != "" {
		headers[SignatureHeader] = Sign(wh.Secret, body)
	}

	d := &Delivery{WebhookID: wh.ID, StoreID: hc.StoreID(), Event: event, URL: wh.URL, DeliveredAt: w.now()}
	resp, err := w.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     wh.URL,
		Headers: headers,
		Body:    body,
		Timeout: w.timeout,
	})
	switch {
	case err != nil:
		d.Error = err.Error()
	case !resp.OK():
		d.Status, d.Duration = resp.Status, resp.Duration
		err = fmt.Errorf("status %d", resp.Status)
		d.Error = err.Error()
	default:
		d.Status, d.Duration, d.Success = resp.Status, resp.Duration, true
	}

	if w.log != nil {
		if logErr := w.log.RecordDelivery(ctx, d); logErr != nil {
			hc.Logger().Warn("failed to record webhook delivery",
				slog.String("webhook_id", wh.ID),
				slog.String("error", logErr.Error()),
			)
		}
	}
	if err != nil {
		return d, fmt.Errorf("webhook %s: %w", wh.ID, err)
	}
	return d, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
