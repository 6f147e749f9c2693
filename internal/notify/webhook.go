package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender posts notifications as JSON to an owner-controlled URL,
// e.g. a chat integration.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, client *http.Client) *WebhookSender {
	if url == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: url, client: client}
}

type webhookLead struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Service  *string `json:"service"`
	Commune  *string `json:"commune"`
	Status   string  `json:"status"`
	Urgency  *string `json:"urgency,omitempty"`
	Channel  string  `json:"channel"`
	Session  string  `json:"session_id,omitempty"`
	Priority int     `json:"priority_level"`
}

type webhookPayload struct {
	Event    string      `json:"event"`
	Priority string      `json:"priority"`
	Reason   string      `json:"reason,omitempty"`
	Lead     webhookLead `json:"lead"`
}

func (w *WebhookSender) Post(ctx context.Context, n Notification) error {
	lead := n.Lead
	payload := webhookPayload{
		Event:    string(n.Kind),
		Priority: string(n.Priority),
		Reason:   n.Reason,
		Lead: webhookLead{
			ID:       lead.ID,
			Name:     lead.Name,
			Phone:    lead.Phone,
			Service:  lead.Service,
			Commune:  lead.Commune,
			Status:   string(lead.Status),
			Urgency:  lead.Urgency,
			Channel:  string(lead.Channel),
			Session:  lead.SessionID,
			Priority: lead.Status.PriorityLevel(),
		},
	}
	if payload.Event == "" {
		payload.Event = string(KindNewLead)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
