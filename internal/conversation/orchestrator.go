package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/leadflow-ai/internal/classifier"
	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/internal/notify"
	"github.com/wolfman30/leadflow-ai/internal/observability/metrics"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const (
	DefaultClosingReply  = "¡Gracias! Ya tenemos tus datos y un asesor te contactará muy pronto. Si necesitas algo más, puedes volver a escribirnos."
	DefaultFallbackReply = "Disculpa, tuve un problema al procesar tu mensaje. ¿Podrías intentar nuevamente?"

	maxLoggedRaw = 2 << 10
)

// ErrInvalidMessage rejects a request that cannot start a turn.
var ErrInvalidMessage = errors.New("conversation: invalid message request")

var orchestratorTracer = otel.Tracer("leadflow.internal.conversation.orchestrator")

// Orchestrator runs the per-session state machine: it drives the generator,
// lets the classifier settle the lead status, persists the session and
// captures the lead once the contact data is complete.
type Orchestrator struct {
	store      Store
	leads      leads.Repository
	generator  ResponseGenerator
	classifier *classifier.Classifier
	notifier   notify.Notifier
	locker     SessionLocker
	logger     *logging.Logger
	metrics    *metrics.ConversationMetrics

	closingReply  string
	fallbackReply string
}

var _ TurnProcessor = (*Orchestrator)(nil)

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

func WithNotifier(n notify.Notifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithSessionLocker(l SessionLocker) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

func WithReplies(closing, fallback string) OrchestratorOption {
	return func(o *Orchestrator) {
		if strings.TrimSpace(closing) != "" {
			o.closingReply = closing
		}
		if strings.TrimSpace(fallback) != "" {
			o.fallbackReply = fallback
		}
	}
}

func WithOrchestratorMetrics(m *metrics.ConversationMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator wires the state machine. Turns are serialized with a
// LocalLocker unless WithSessionLocker supplies a shared one.
func NewOrchestrator(store Store, leadRepo leads.Repository, generator ResponseGenerator, cls *classifier.Classifier, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if leadRepo == nil {
		panic("conversation: lead repository cannot be nil")
	}
	if generator == nil {
		panic("conversation: generator cannot be nil")
	}
	if cls == nil {
		cls = classifier.Default()
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		store:         store,
		leads:         leadRepo,
		generator:     generator,
		classifier:    cls,
		locker:        NewLocalLocker(),
		logger:        logger,
		closingReply:  DefaultClosingReply,
		fallbackReply: DefaultFallbackReply,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessMessage runs one turn. Waiting for the session lock honors ctx;
// once the lock is held the turn runs to completion regardless of ctx.
// Generation failures become a fallback reply; persistence failures are
// returned and the whole call may be replayed.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req MessageRequest) (*TurnResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	if req.Channel == "" {
		req.Channel = leads.ChannelWeb
	}
	if req.SessionID == "" || req.Message == "" || !req.Channel.Valid() {
		return nil, ErrInvalidMessage
	}

	unlock, err := o.locker.Lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, span := orchestratorTracer.Start(context.WithoutCancel(ctx), "conversation.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadflow.session_id", req.SessionID),
		attribute.String("leadflow.channel", string(req.Channel)),
	)

	result, outcome, err := o.runTurn(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		o.metrics.ObserveTurn(string(req.Channel), "error")
		o.logger.Error("conversation turn failed",
			"session_id", req.SessionID,
			"channel", string(req.Channel),
			"error", err,
		)
		return nil, err
	}
	o.metrics.ObserveTurn(string(req.Channel), outcome)
	span.SetAttributes(
		attribute.String("leadflow.turn.outcome", outcome),
		attribute.String("leadflow.lead.status", string(result.Status)),
		attribute.Bool("leadflow.lead.saved", result.LeadSaved),
	)
	return result, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, req MessageRequest) (*TurnResult, string, error) {
	sess, err := o.store.FindBySessionID(ctx, req.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		sess = &Session{ID: req.SessionID, Channel: req.Channel, State: StateActive}
	case err != nil:
		return nil, "", fmt.Errorf("conversation: load session: %w", err)
	}

	if sess.Completed() {
		return o.closedResult(ctx, sess), "closed", nil
	}

	history := make([]ChatMessage, 0, len(sess.History)+2)
	history = append(history, sess.History...)
	history = append(history, ChatMessage{Role: ChatRoleUser, Content: req.Message})

	resp, genErr := o.generator.Generate(ctx, history, req.Channel)
	if genErr != nil {
		o.logGenerationFailure(req, genErr)
		if err := o.store.Save(ctx, req.SessionID, history, req.Channel); err != nil {
			return nil, "", fmt.Errorf("conversation: save session: %w", err)
		}
		return &TurnResult{
			Reply:    o.fallbackReply,
			Fields:   leads.Fields{Status: leads.StatusCold},
			Status:   leads.StatusCold,
			Fallback: true,
		}, "fallback", nil
	}

	fields := resp.Lead.Normalize()
	transcript, userTurns := userTranscript(history)
	decision := o.classifier.Validate(fields.Status, fields, transcript, userTurns)
	fields.Status = decision.FinalStatus
	if !decision.Agree {
		o.metrics.ObserveOverride(string(decision.ModelStatus), string(decision.FinalStatus))
		o.logger.Info("lead status overridden by rules",
			"session_id", req.SessionID,
			"model_status", string(decision.ModelStatus),
			"rule_status", string(decision.RuleStatus),
			"rule", string(decision.Rule),
			"reason", decision.Reason,
		)
	}

	history = append(history, ChatMessage{Role: ChatRoleAssistant, Content: encodeAssistantTurn(resp.Reply, fields)})
	if err := o.store.Save(ctx, req.SessionID, history, req.Channel); err != nil {
		return nil, "", fmt.Errorf("conversation: save session: %w", err)
	}

	result := &TurnResult{
		Reply:    resp.Reply,
		Fields:   fields,
		Status:   fields.Status,
		Decision: &decision,
		LeadID:   sess.LeadID,
	}
	if !fields.Complete() {
		return result, "replied", nil
	}

	if sess.LeadID == "" {
		lead, err := o.store.CaptureLead(ctx, req.SessionID, &leads.CreateLeadRequest{
			Fields:    fields,
			Urgency:   resp.Urgency,
			Notes:     leads.Value(resp.Notes),
			Channel:   req.Channel,
			SessionID: req.SessionID,
		})
		switch {
		case err == nil:
			result.LeadSaved = true
			result.SessionComplete = true
			result.LeadID = lead.ID
			o.metrics.ObserveLeadCaptured(string(lead.Status), string(lead.Channel))
			o.logger.Info("lead captured",
				"session_id", req.SessionID,
				"lead_id", lead.ID,
				"status", string(lead.Status),
				"channel", string(lead.Channel),
			)
			o.announce(ctx, lead, decision)
			return result, "captured", nil
		case errors.Is(err, ErrLeadAlreadyLinked):
			// Another writer linked a lead after the session was loaded.
			current, ferr := o.store.FindBySessionID(ctx, req.SessionID)
			if ferr != nil {
				return nil, "", fmt.Errorf("conversation: reload session: %w", ferr)
			}
			sess = current
			result.LeadID = current.LeadID
			result.SessionComplete = current.Completed()
		default:
			return nil, "", fmt.Errorf("conversation: capture lead: %w", err)
		}
	}

	if err := o.mergeLead(ctx, sess.LeadID, fields, resp); err != nil {
		return nil, "", err
	}
	return result, "replied", nil
}

// mergeLead folds newly extracted fields into an existing lead without
// clearing anything already known.
func (o *Orchestrator) mergeLead(ctx context.Context, leadID string, fields leads.Fields, resp StructuredResponse) error {
	if leadID == "" {
		return nil
	}
	if _, err := o.leads.Update(ctx, leadID, &leads.UpdateLeadRequest{
		Fields:  fields,
		Urgency: resp.Urgency,
		Notes:   leads.Value(resp.Notes),
	}); err != nil {
		return fmt.Errorf("conversation: update lead: %w", err)
	}
	if err := o.leads.TouchLastInteraction(ctx, leadID); err != nil {
		return fmt.Errorf("conversation: touch lead: %w", err)
	}
	return nil
}

func (o *Orchestrator) announce(ctx context.Context, lead *leads.Lead, decision classifier.Decision) {
	if o.notifier == nil {
		return
	}
	priority := notify.PriorityForStatus(lead.Status)
	if priority == notify.PriorityNone {
		return
	}
	o.notifier.Dispatch(ctx, notify.Notification{
		Lead:     lead,
		Priority: priority,
		Kind:     notify.KindNewLead,
		Reason:   decision.Reason,
	})
}

// closedResult answers a completed session without touching the model or
// the stored history. Lead details are included when they can be read.
func (o *Orchestrator) closedResult(ctx context.Context, sess *Session) *TurnResult {
	result := &TurnResult{
		Reply:           o.closingReply,
		SessionComplete: true,
		LeadID:          sess.LeadID,
		Fields:          leads.Fields{Status: leads.StatusCold},
		Status:          leads.StatusCold,
	}
	if sess.LeadID == "" {
		return result
	}
	lead, err := o.leads.GetByID(ctx, sess.LeadID)
	if err != nil {
		o.logger.Warn("could not load lead for completed session",
			"session_id", sess.ID,
			"lead_id", sess.LeadID,
			"error", err,
		)
		return result
	}
	result.Fields = lead.Fields
	result.Status = lead.Status
	return result
}

func (o *Orchestrator) logGenerationFailure(req MessageRequest, err error) {
	attrs := []any{
		"session_id", req.SessionID,
		"channel", string(req.Channel),
		"error", err,
	}
	var terr *TerminalError
	if errors.As(err, &terr) {
		attrs = append(attrs,
			"kind", string(terr.Kind),
			"attempts", terr.Attempts,
		)
		if terr.LastRaw != "" {
			attrs = append(attrs, "last_raw", truncate(scrubPII(terr.LastRaw), maxLoggedRaw))
		}
	}
	o.logger.Error("structured response generation failed", attrs...)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}

