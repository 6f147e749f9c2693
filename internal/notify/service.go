package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// Priority tells the business owner how fast to react.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// PriorityForStatus maps a lead temperature to its alert priority. Cold
// leads are not announced.
func PriorityForStatus(status leads.Status) Priority {
	switch status {
	case leads.StatusHot:
		return PriorityUrgent
	case leads.StatusWarm:
		return PriorityNormal
	default:
		return PriorityNone
	}
}

// Kind separates first announcements from follow-up reminders.
type Kind string

const (
	KindNewLead  Kind = "new_lead"
	KindFollowUp Kind = "follow_up"
)

// Notification is one owner alert about a lead.
type Notification struct {
	Lead     *leads.Lead
	Priority Priority
	Kind     Kind
	Reason   string
}

// Sender delivers a notification synchronously.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Service fans a notification out to the owner's email inboxes and an
// optional webhook.
type Service struct {
	email        EmailSender
	recipients   []string
	webhook      *WebhookSender
	businessName string
	logger       *logging.Logger
}

// ServiceConfig carries the owner-facing settings.
type ServiceConfig struct {
	Recipients   []string
	BusinessName string
}

func NewService(email EmailSender, webhook *WebhookSender, cfg ServiceConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	recipients := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	name := strings.TrimSpace(cfg.BusinessName)
	if name == "" {
		name = defaultFromName
	}
	return &Service{
		email:        email,
		recipients:   recipients,
		webhook:      webhook,
		businessName: name,
		logger:       logger,
	}
}

// Send delivers n on every configured channel and reports the failures
// joined together. A partial failure still attempts every recipient.
func (s *Service) Send(ctx context.Context, n Notification) error {
	if n.Lead == nil {
		return errors.New("notify: notification has no lead")
	}
	if n.Kind == "" {
		n.Kind = KindNewLead
	}

	var errs []error
	if s.email != nil && len(s.recipients) > 0 {
		alert, err := RenderAlert(n, s.businessName)
		if err != nil {
			return err
		}
		for _, recipient := range s.recipients {
			err := s.email.Send(ctx, recipient, alert)
			if err != nil {
				s.logger.Error("notify: failed to send email", "error", err, "to", recipient, "lead_id", n.Lead.ID)
				errs = append(errs, err)
				continue
			}
			s.logger.Info("notify: lead email sent", "to", recipient, "lead_id", n.Lead.ID, "priority", string(n.Priority))
		}
	}
	if s.webhook != nil {
		if err := s.webhook.Post(ctx, n); err != nil {
			s.logger.Error("notify: webhook failed", "error", err, "lead_id", n.Lead.ID)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var _ Sender = (*Service)(nil)
