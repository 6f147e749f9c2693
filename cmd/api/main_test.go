package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/goleak"

	appconfig "github.com/wolfman30/leadflow-ai/internal/config"
	"github.com/wolfman30/leadflow-ai/internal/conversation"
	"github.com/wolfman30/leadflow-ai/internal/notify"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", &strings.Builder{})
}

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, m := setupMetrics()
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.ObserveTurn("web", "ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "leadflow_conversation_turns_total") {
		t.Fatalf("expected turn counter to be exported")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := connectPostgresPool(context.Background(), "", testLogger()); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestSetupStoresInMemory(t *testing.T) {
	st := setupStores(&appconfig.Config{}, nil, nil, testLogger())
	if _, ok := st.sessions.(*conversation.MemoryStore); !ok {
		t.Fatalf("expected memory session store, got %T", st.sessions)
	}
	if _, ok := st.locker.(*conversation.LocalLocker); !ok {
		t.Fatalf("expected local locker, got %T", st.locker)
	}
}

func TestSetupStoresWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := connectRedis(&appconfig.Config{RedisAddr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := setupStores(&appconfig.Config{SessionCacheTTL: time.Hour, SessionLockTTL: time.Minute}, nil, rdb, testLogger())
	if _, ok := st.sessions.(*conversation.CachedStore); !ok {
		t.Fatalf("expected cached session store, got %T", st.sessions)
	}
	if _, ok := st.locker.(*conversation.RedisLocker); !ok {
		t.Fatalf("expected redis locker, got %T", st.locker)
	}
	if _, ok := st.lookup.(*conversation.MemoryStore); !ok {
		t.Fatalf("expected session lookup to bypass the cache, got %T", st.lookup)
	}
}

func TestSetupLLMClient(t *testing.T) {
	cfg := &appconfig.Config{LLMProvider: "openai", OpenAIAPIKey: "sk-test", OpenAIModel: "gpt-4o-mini"}
	client, closer, err := setupLLMClient(context.Background(), cfg, &awsLoader{cfg: cfg}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*conversation.OpenAIClient); !ok {
		t.Fatalf("expected openai client, got %T", client)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg.LLMFallbackProvider = "bedrock"
	cfg.BedrockModelID = "anthropic.claude-3-haiku"
	cfg.AWSRegion = "us-east-1"
	cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey = "test", "test"
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	client, _, err = setupLLMClient(context.Background(), cfg, &awsLoader{cfg: cfg}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*conversation.FallbackLLMClient); !ok {
		t.Fatalf("expected fallback client, got %T", client)
	}

	cfg.LLMFallbackProvider = "watson"
	if _, _, err := setupLLMClient(context.Background(), cfg, &awsLoader{cfg: cfg}, testLogger()); err == nil {
		t.Fatalf("expected unknown fallback provider to fail")
	}
}

func TestSetupNotifierDefaultsToStub(t *testing.T) {
	cfg := &appconfig.Config{EmailProvider: "stub", NotifyTimeout: time.Second}
	email, err := setupEmailSender(context.Background(), cfg, &awsLoader{cfg: cfg}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := email.(*notify.StubEmailSender); !ok {
		t.Fatalf("expected stub sender, got %T", email)
	}
	cfg.EmailProvider = "sendgrid"
	if _, err := setupEmailSender(context.Background(), cfg, &awsLoader{cfg: cfg}, testLogger()); err == nil {
		t.Fatalf("expected sendgrid without an api key to fail")
	}
	cfg.EmailProvider = "stub"
	svc, async, err := setupNotifier(context.Background(), cfg, &awsLoader{cfg: cfg}, nil, testLogger())
	if err != nil || svc == nil || async == nil {
		t.Fatalf("expected notifier, got %v %v %v", svc, async, err)
	}
}

func TestSetupProcessorInlineAndMemoryQueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := &appconfig.Config{LLMProvider: "openai", OpenAIAPIKey: "sk-test", WorkerCount: 1}
	st := setupStores(cfg, nil, nil, testLogger())
	llm, _, err := setupLLMClient(context.Background(), cfg, &awsLoader{cfg: cfg}, testLogger())
	if err != nil {
		t.Fatalf("llm: %v", err)
	}
	gen, err := setupGenerator(cfg, llm, nil, testLogger())
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	orch := conversation.NewOrchestrator(st.sessions, st.leads, gen, nil, testLogger())

	processor, dispatcher, err := setupProcessor(context.Background(), cfg, orch, &awsLoader{cfg: cfg}, testLogger())
	if err != nil || dispatcher != nil || processor != conversation.TurnProcessor(orch) {
		t.Fatalf("expected inline orchestrator, got %T %v %v", processor, dispatcher, err)
	}

	cfg.UseMemoryQueue = true
	processor, dispatcher, err = setupProcessor(context.Background(), cfg, orch, &awsLoader{cfg: cfg}, testLogger())
	if err != nil || dispatcher == nil {
		t.Fatalf("expected dispatcher, got %v", err)
	}
	if processor != conversation.TurnProcessor(dispatcher) {
		t.Fatalf("expected dispatcher to front the orchestrator")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupGeneratorMissingPrompt(t *testing.T) {
	cfg := &appconfig.Config{SystemPromptPath: t.TempDir() + "/missing.txt"}
	if _, err := setupGenerator(cfg, nil, nil, testLogger()); err == nil {
		t.Fatalf("expected missing prompt file to fail")
	}
}
