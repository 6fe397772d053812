package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Event is a human-facing notification about a committed transition.
type Event struct {
	Type       string
	EntityKind string
	EntityID   string
	To         []string
	Subject    string
	Text       string
	HTML       string
}

// Notifier delivers notifications. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type mailSender interface {
	Send(email *mail.SGMailV3) (statusCode int, body string, err error)
}

type sendgridClient struct {
	apiKey string
}

func (c sendgridClient) Send(email *mail.SGMailV3) (int, string, error) {
	resp, err := sendgrid.NewSendClient(c.apiKey).Send(email)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, resp.Body, nil
}

// SendGrid sends one e-mail per recipient.
type SendGrid struct {
	FromName  string
	FromEmail string
	Log       *zap.SugaredLogger

	sender mailSender
}

func NewSendGrid(apiKey, fromName, fromEmail string, log *zap.SugaredLogger) *SendGrid {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SendGrid{FromName: fromName, FromEmail: fromEmail, Log: log, sender: sendgridClient{apiKey: apiKey}}
}

func (s *SendGrid) Notify(ctx context.Context, evt Event) error {
	if len(evt.To) == 0 {
		return nil
	}
	from := mail.NewEmail(s.FromName, s.FromEmail)
	body := evt.HTML
	if body == "" {
		body = "<p>" + html.EscapeString(evt.Text) + "</p>"
	}
	var errs []error
	for _, addr := range evt.To {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := mail.NewSingleEmail(from, evt.Subject, mail.NewEmail("", addr), evt.Text, body)
		status, respBody, err := s.sender.Send(msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", addr, err))
			continue
		}
		if status >= 300 {
			s.Log.Errorw("sendgrid returned error status", "status", status, "body", respBody, "to", addr, "event", evt.Type)
			errs = append(errs, fmt.Errorf("sendgrid error: status %d", status))
		}
	}
	return errors.Join(errs...)
}
