package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

// State is the lifecycle stage of a chat session.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
)

// Session is one ongoing conversation keyed by a caller-supplied id.
type Session struct {
	ID        string        `json:"session_id"`
	Channel   leads.Channel `json:"channel"`
	History   []ChatMessage `json:"history"`
	LeadID    string        `json:"lead_id,omitempty"`
	State     State         `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Completed reports whether the session has reached its terminal state.
func (s *Session) Completed() bool {
	return s != nil && s.State == StateCompleted
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.History = append([]ChatMessage(nil), s.History...)
	return &cp
}

// SessionStore persists sessions. FindBySessionID returns ErrSessionNotFound
// for an unknown id.
type SessionStore interface {
	FindBySessionID(ctx context.Context, sessionID string) (*Session, error)
	// Save upserts the history and channel; state and lead link are untouched.
	Save(ctx context.Context, sessionID string, history []ChatMessage, channel leads.Channel) error
	AssociateWithLead(ctx context.Context, sessionID, leadID string) error
	MarkCompleted(ctx context.Context, sessionID string) error
}

// LeadCapturer creates a lead, links it to the session and completes the
// session as one unit. It returns ErrLeadAlreadyLinked without creating
// anything when the session already carries a lead.
type LeadCapturer interface {
	CaptureLead(ctx context.Context, sessionID string, req *leads.CreateLeadRequest) (*leads.Lead, error)
}

// Store is everything the orchestrator needs from session persistence.
type Store interface {
	SessionStore
	LeadCapturer
}
