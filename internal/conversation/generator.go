package conversation

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/internal/observability/metrics"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxAttempts bounds the LLM calls made for one turn.
	DefaultMaxAttempts = 3

	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second
	defaultMaxJitter   = time.Second
	defaultLLMTimeout  = 30 * time.Second
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultMaxHistory  = 40
	defaultOpenAIModel = "gpt-4o-mini"
)

var generatorTracer = otel.Tracer("leadflow.internal.conversation.generator")

// ResponseGenerator produces a validated structured reply for a history.
type ResponseGenerator interface {
	Generate(ctx context.Context, history []ChatMessage, channel leads.Channel) (StructuredResponse, error)
}

// BackoffPolicy computes the wait before retrying a failed transport call.
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// Delay returns min(Base*2^(attempt-1) + jitter, Max).
func (p BackoffPolicy) Delay(attempt int, jitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			break
		}
	}
	d += jitter
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

func WithMaxAttempts(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func WithBackoff(policy BackoffPolicy) GeneratorOption {
	return func(g *Generator) {
		g.backoff = policy
	}
}

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) GeneratorOption {
	return func(g *Generator) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithJitterSource replaces the random jitter, for tests.
func WithJitterSource(jitter func(max time.Duration) time.Duration) GeneratorOption {
	return func(g *Generator) {
		if jitter != nil {
			g.jitter = jitter
		}
	}
}

// WithLLMTimeout bounds each individual LLM call.
func WithLLMTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxHistory limits how many history messages are sent to the model.
func WithMaxHistory(n int) GeneratorOption {
	return func(g *Generator) {
		g.maxHistory = n
	}
}

func WithModel(model string) GeneratorOption {
	return func(g *Generator) {
		if model != "" {
			g.model = model
		}
	}
}

func WithSampling(maxTokens int32, temperature float32) GeneratorOption {
	return func(g *Generator) {
		if maxTokens > 0 {
			g.maxTokens = maxTokens
		}
		g.temperature = temperature
	}
}

func WithGeneratorMetrics(m *metrics.ConversationMetrics) GeneratorOption {
	return func(g *Generator) {
		g.metrics = m
	}
}

// Generator forces the LLM into the JSON reply contract. Malformed output is
// answered with a corrective follow-up on a scratch copy of the history;
// transient transport failures are retried with exponential backoff. Both
// share one attempt budget.
type Generator struct {
	client      LLMClient
	prompts     *PromptBuilder
	logger      *logging.Logger
	metrics     *metrics.ConversationMetrics
	model       string
	maxAttempts int
	maxTokens   int32
	temperature float32
	maxHistory  int
	timeout     time.Duration
	backoff     BackoffPolicy
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func(max time.Duration) time.Duration
}

// NewGenerator wires a generator around an LLM client.
func NewGenerator(client LLMClient, prompts *PromptBuilder, logger *logging.Logger, opts ...GeneratorOption) *Generator {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if prompts == nil {
		prompts = NewPromptBuilder(BusinessProfile{})
	}
	if logger == nil {
		logger = logging.Default()
	}
	g := &Generator{
		client:      client,
		prompts:     prompts,
		logger:      logger,
		model:       defaultOpenAIModel,
		maxAttempts: DefaultMaxAttempts,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		maxHistory:  defaultMaxHistory,
		timeout:     defaultLLMTimeout,
		backoff: BackoffPolicy{
			Base:   defaultBaseDelay,
			Max:    defaultMaxDelay,
			Jitter: defaultMaxJitter,
		},
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a validated reply or a *TerminalError. The caller's
// history is never modified.
func (g *Generator) Generate(ctx context.Context, history []ChatMessage, channel leads.Channel) (StructuredResponse, error) {
	ctx, span := generatorTracer.Start(ctx, "conversation.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadflow.channel", string(channel)),
		attribute.Int("leadflow.history_len", len(history)),
	)

	system := g.prompts.Build(channel, history)
	trimmed := trimHistory(history, g.maxHistory)
	scratch := make([]ChatMessage, len(trimmed), len(trimmed)+2*g.maxAttempts)
	copy(scratch, trimmed)

	var (
		lastErr  error
		lastRaw  string
		lastKind ErrorKind
	)
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		resp, err := g.complete(ctx, system, scratch, attempt)
		if err != nil {
			lastErr, lastRaw, lastKind = err, "", KindExternalService
			if !IsRetriable(err) || ctx.Err() != nil {
				g.metrics.ObserveLLMAttempt("fatal_error")
				return StructuredResponse{}, g.fail(span, KindExternalService, attempt, "", err)
			}
			g.metrics.ObserveLLMAttempt("retriable_error")
			if attempt == g.maxAttempts {
				break
			}
			delay := g.backoff.Delay(attempt, g.jitter(g.backoff.Jitter))
			g.logger.Warn("llm call failed, retrying",
				"attempt", attempt,
				"max_attempts", g.maxAttempts,
				"backoff_ms", delay.Milliseconds(),
				"error", err,
			)
			if err := g.sleep(ctx, delay); err != nil {
				return StructuredResponse{}, g.fail(span, KindExternalService, attempt, "", err)
			}
			continue
		}

		parsed, verr := DecodeResponse(resp.Text)
		if verr == nil {
			g.metrics.ObserveLLMAttempt("ok")
			span.SetAttributes(attribute.Int("leadflow.llm.attempts", attempt))
			return parsed, nil
		}

		g.metrics.ObserveLLMAttempt("invalid_output")
		lastErr, lastRaw, lastKind = verr, resp.Text, KindSchemaViolation
		g.logger.Warn("llm output rejected",
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"error", verr,
		)
		scratch = append(scratch,
			ChatMessage{Role: ChatRoleAssistant, Content: resp.Text},
			ChatMessage{Role: ChatRoleUser, Content: correctionMessage(verr)},
		)
	}

	if lastErr == nil {
		lastErr, lastKind = errors.New("no attempts made"), KindExternalService
	}
	return StructuredResponse{}, g.fail(span, lastKind, g.maxAttempts, lastRaw, lastErr)
}

func (g *Generator) complete(ctx context.Context, system []string, messages []ChatMessage, attempt int) (LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(callCtx, LLMRequest{
		Model:       g.model,
		System:      system,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		JSONMode:    true,
		Attempt:     attempt,
	})
	latency := time.Since(start)
	g.metrics.ObserveLLMLatency(resp.Provider, latency.Seconds())
	if err != nil {
		return LLMResponse{}, err
	}

	g.logger.Debug("llm completion finished",
		"model", g.model,
		"provider", resp.Provider,
		"attempt", attempt,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	return resp, nil
}

func (g *Generator) fail(span trace.Span, kind ErrorKind, attempts int, raw string, err error) error {
	terr := &TerminalError{Kind: kind, Attempts: attempts, LastRaw: raw, Err: err}
	span.RecordError(terr)
	span.SetStatus(codes.Error, string(kind))
	span.SetAttributes(attribute.Int("leadflow.llm.attempts", attempts))
	return terr
}

// trimHistory keeps the last limit messages, starting on a user turn.
func trimHistory(history []ChatMessage, limit int) []ChatMessage {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	trimmed := history[len(history)-limit:]
	for len(trimmed) > 1 && trimmed[0].Role != ChatRoleUser {
		trimmed = trimmed[1:]
	}
	return trimmed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
