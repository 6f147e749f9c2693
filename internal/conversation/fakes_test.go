package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

type llmStep struct {
	text string
	err  error
}

// scriptedLLM replays steps in order and repeats the last one when the
// script runs out.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []llmStep
	base     int
	calls    int
	requests []LLMRequest
}

func newScriptedLLM(steps ...llmStep) *scriptedLLM {
	return &scriptedLLM{steps: steps}
}

func (s *scriptedLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Messages = append([]ChatMessage(nil), req.Messages...)
	s.requests = append(s.requests, req)
	idx := s.calls - s.base
	s.calls++
	if len(s.steps) == 0 {
		return LLMResponse{Provider: "stub"}, nil
	}
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	if step.err != nil {
		return LLMResponse{Provider: "stub"}, step.err
	}
	return LLMResponse{Text: step.text, Provider: "stub"}, nil
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// script replaces the remaining steps; the next call plays steps[0].
func (s *scriptedLLM) script(steps ...llmStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = steps
	s.base = s.calls
}

// modelReply renders a schema-conformant model output.
func modelReply(reply string, status leads.Status, kv map[string]string) string {
	lead := map[string]any{
		"name":    nil,
		"phone":   nil,
		"service": nil,
		"commune": nil,
		"status":  string(status),
	}
	for k, v := range kv {
		lead[k] = v
	}
	body, _ := json.Marshal(map[string]any{"reply": reply, "lead": lead})
	return string(body)
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func noJitter(time.Duration) time.Duration { return 0 }

func newTestGenerator(client LLMClient, opts ...GeneratorOption) (*Generator, *recordedSleeps) {
	sleeps := &recordedSleeps{}
	base := []GeneratorOption{
		WithSleeper(sleeps.sleep),
		WithJitterSource(noJitter),
	}
	return NewGenerator(client, NewPromptBuilder(BusinessProfile{Name: "Climas Sur"}), nil, append(base, opts...)...), sleeps
}
