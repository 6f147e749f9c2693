package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookSender_NilWithoutURL(t *testing.T) {
	assert.Nil(t, NewWebhookSender("", nil))
}

func TestWebhookSender_Post(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, srv.Client())
	err := sender.Post(context.Background(), Notification{Lead: hotLead(), Priority: PriorityUrgent, Reason: "urgente"})
	require.NoError(t, err)

	assert.Equal(t, "new_lead", got.Event)
	assert.Equal(t, "urgent", got.Priority)
	assert.Equal(t, "lead-1", got.Lead.ID)
	assert.Equal(t, "hot", got.Lead.Status)
	assert.Equal(t, 3, got.Lead.Priority)
	assert.Equal(t, "whatsapp", got.Lead.Channel)
	assert.Nil(t, got.Lead.Commune)
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, srv.Client())
	err := sender.Post(context.Background(), Notification{Lead: hotLead(), Priority: PriorityNormal})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestService_Send_Webhook(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(nil, NewWebhookSender(srv.URL, srv.Client()), ServiceConfig{}, nil)
	require.NoError(t, svc.Send(context.Background(), Notification{Lead: hotLead(), Priority: PriorityUrgent}))
	assert.Equal(t, 1, calls)
}
