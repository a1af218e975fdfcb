package dynamiccron

import (
	"context"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/handler"
)

// Email is one message sent by an email definition.
type Email struct {
	StoreID  string         `json:"store_id,omitempty"`
	To       []string       `json:"to" validate:"required,min=1,dive,email"`
	Subject  string         `json:"subject" validate:"required"`
	Template string         `json:"template"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data"`
}

// Mailer delivers email. Delivery providers live outside this module.
type Mailer interface {
	Send(ctx context.Context, e Email) (messageID string, err error)
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, e Email) (string, error)

// Send calls f.
func (f MailerFunc) Send(ctx context.Context, e Email) (string, error) { return f(ctx, e) }

func (d *Dispatcher) runEmail(hc *handler.Context, def *cron.Definition) (any, error) {
	if d.mailer == nil {
		return nil, jobs.Misconfigured("dispatch email", "email delivery not configured")
	}
	msg, err := decodeConfig[Email](def)
	if err != nil {
		return nil, err
	}
	msg.StoreID = def.StoreID
	messageID, err := d.mailer.Send(hc.Context(), msg)
	if err != nil {
		return nil, jobs.Downstream("dispatch email", err)
	}
	return map[string]any{"message_id": messageID, "recipients": len(msg.To)}, nil
}
