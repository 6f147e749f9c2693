package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const (
	defaultFromName = "LeadFlow"
	alertCategory   = "lead-alert"
)

// EmailSender delivers one rendered alert to one owner inbox.
type EmailSender interface {
	Send(ctx context.Context, to string, alert Alert) error
}

// SendGridSender delivers alerts through the SendGrid v3 API. Messages are
// categorized by kind and priority so the owner can filter them in the
// SendGrid activity feed.
type SendGridSender struct {
	send      func(ctx context.Context, email *mail.SGMailV3) (int, string, error)
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) (*SendGridSender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("notify: sendgrid api key is required")
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	return newSendGridSender(func(ctx context.Context, email *mail.SGMailV3) (int, string, error) {
		resp, err := client.SendWithContext(ctx, email)
		if err != nil {
			return 0, "", err
		}
		return resp.StatusCode, resp.Body, nil
	}, cfg, logger), nil
}

func newSendGridSender(send func(context.Context, *mail.SGMailV3) (int, string, error), cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{send: send, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

func (s *SendGridSender) Send(ctx context.Context, to string, alert Alert) error {
	message := s.buildMessage(to, alert)
	status, body, err := s.send(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", to, "lead_id", alert.LeadID)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if status >= 400 {
		s.logger.Error("sendgrid returned error status", "status", status, "body", body, "to", to, "lead_id", alert.LeadID)
		return fmt.Errorf("notify: sendgrid returned status %d", status)
	}
	s.logger.Info("lead alert sent via sendgrid", "to", to, "lead_id", alert.LeadID, "priority", alert.PriorityLabel(), "status", status)
	return nil
}

func (s *SendGridSender) buildMessage(to string, alert Alert) *mail.SGMailV3 {
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", to))

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	m.Subject = alert.Subject
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", alert.Text))
	if alert.HTML != "" {
		m.AddContent(mail.NewContent("text/html", alert.HTML))
	}
	m.AddCategories(alertCategory, string(alert.Kind), alert.PriorityLabel())
	if alert.LeadID != "" {
		m.SetCustomArg("lead_id", alert.LeadID)
	}
	for k, v := range alertHeaders(alert) {
		m.SetHeader(k, v)
	}
	return m
}

// StubEmailSender logs alerts instead of sending them.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, to string, alert Alert) error {
	s.logger.Info("stub email sender: would send lead alert",
		"to", to, "subject", alert.Subject, "lead_id", alert.LeadID, "priority", alert.PriorityLabel(), "kind", string(alert.Kind))
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
