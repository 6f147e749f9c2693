package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/leadflow-ai/internal/http/middleware"
	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const testSecret = "router-secret"

type stubProcessor struct{}

func (stubProcessor) ProcessMessage(ctx context.Context, req conversation.MessageRequest) (*conversation.TurnResult, error) {
	return &conversation.TurnResult{Reply: "¡Hola! ¿En qué te puedo ayudar?", Status: leads.StatusCold}, nil
}

func newTestRouter(t *testing.T, mutate func(*Config)) (http.Handler, *leads.InMemoryRepository) {
	t.Helper()

	logger := logging.NewWithWriter("error", &strings.Builder{})
	repo := leads.NewInMemoryRepository()
	store := conversation.NewMemoryStore(repo)
	cfg := &Config{
		Logger:          logger,
		ChatHandler:     conversation.NewHandler(stubProcessor{}, store, logger),
		LeadsHandler:    leads.NewHandler(repo, logger),
		AdminAuthSecret: testSecret,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg), repo
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	token, err := httpmiddleware.SignAdminToken(testSecret, "owner@example.com", role, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func do(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(router, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected request id header")
	}
}

func TestRouterReadyEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *Config) {
		cfg.ReadyChecks = map[string]func(context.Context) error{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})

	rr := do(router, http.MethodGet, "/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unavailable" || resp.Checks["postgres"] != "ok" || resp.Checks["redis"] != "unavailable" {
		t.Fatalf("unexpected ready response %+v", resp)
	}
	if strings.Contains(rr.Body.String(), "refused") {
		t.Fatalf("ready response leaked the error: %s", rr.Body.String())
	}
}

func TestRouterChatMessage(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(router, http.MethodPost, "/chat/message", `{"message":"Hola","sessionId":"s1","channel":"web"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var resp conversation.ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ReplyText == "" || resp.Lead.Status != "cold" || resp.Lead.PriorityLevel != 1 {
		t.Fatalf("unexpected chat response %+v", resp)
	}
}

func TestRouterChatRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *Config) {
		cfg.ChatLimiter = httpmiddleware.NewRateLimiter(0, 1)
	})
	body := `{"message":"Hola","sessionId":"s1","channel":"web"}`

	if rr := do(router, http.MethodPost, "/chat/message", body, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	if rr := do(router, http.MethodPost, "/chat/message", body, ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
	if rr := do(router, http.MethodGet, "/health", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", rr.Code)
	}
}

func TestRouterAdminLeadsRequireToken(t *testing.T) {
	router, repo := newTestRouter(t, nil)
	name, phone := "Juan Pérez", "+56912345678"
	if _, err := repo.Create(context.Background(), &leads.CreateLeadRequest{
		Fields:    leads.Fields{Name: &name, Phone: &phone, Status: leads.StatusHot},
		Channel:   leads.ChannelWeb,
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	if rr := do(router, http.MethodGet, "/admin/leads", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if rr := do(router, http.MethodGet, "/admin/leads", "", adminToken(t, "viewer")); rr.Code != http.StatusForbidden {
		t.Fatalf("expected %d, got %d", http.StatusForbidden, rr.Code)
	}

	rr := do(router, http.MethodGet, "/admin/leads?status=hot", "", adminToken(t, "owner"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var resp leads.ListLeadsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected one hot lead, got %d", resp.Count)
	}
}

func TestRouterSessionLookupRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	if rr := do(router, http.MethodGet, "/chat/sessions/s1", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if rr := do(router, http.MethodGet, "/chat/sessions/missing", "", adminToken(t, "admin")); rr.Code != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestRouterAdminRoutesAbsentWithoutSecret(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *Config) { cfg.AdminAuthSecret = "" })

	for _, path := range []string{"/admin/leads", "/chat/sessions/s1"} {
		rr := do(router, http.MethodGet, path, "", "")
		if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected admin route to be unmounted, got %d", path, rr.Code)
		}
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(router, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "# metrics" {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}
