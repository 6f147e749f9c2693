package conversation

import (
	"context"

	"github.com/wolfman30/leadflow-ai/internal/classifier"
	"github.com/wolfman30/leadflow-ai/internal/leads"
)

// TurnProcessor handles one inbound chat message. Both the Orchestrator and
// the queue-backed Dispatcher implement it.
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (*TurnResult, error)
}

// MessageRequest is a single inbound user message.
type MessageRequest struct {
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	Channel   leads.Channel `json:"channel"`
}

// TurnResult is what a processed turn hands back to the transport layer.
type TurnResult struct {
	Reply  string       `json:"reply"`
	Fields leads.Fields `json:"fields"`
	// Status is the classifier's final status for this turn.
	Status          leads.Status         `json:"status"`
	Decision        *classifier.Decision `json:"decision,omitempty"`
	SessionComplete bool                 `json:"session_complete"`
	LeadSaved       bool                 `json:"lead_saved"`
	LeadID          string               `json:"lead_id,omitempty"`
	// Fallback is set when the reply is the canned apology after a failed
	// generation.
	Fallback bool `json:"fallback,omitempty"`
}
