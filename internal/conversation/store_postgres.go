package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

type pgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists sessions in the conversations table. The
// conversations.lead_id column is unique, so a lead can belong to at most
// one session.
type PostgresStore struct {
	db     pgxPool
	tracer trace.Tracer
}

func NewPostgresStore(db pgxPool) *PostgresStore {
	if db == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("leadflow.internal.conversation.store"),
	}
}

func (s *PostgresStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.store.find", trace.WithAttributes(
		attribute.String("leadflow.session_id", sessionID),
	))
	defer span.End()

	var (
		sess    Session
		channel string
		state   string
		history []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT session_id, channel, history, COALESCE(lead_id::text, ''), state, created_at, updated_at
		FROM conversations
		WHERE session_id = $1`, sessionID).
		Scan(&sess.ID, &channel, &history, &sess.LeadID, &state, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: find session: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &sess.History); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: decode history: %w", err)
		}
	}
	sess.Channel = leads.Channel(channel)
	sess.State = State(state)
	return &sess, nil
}

func (s *PostgresStore) Save(ctx context.Context, sessionID string, history []ChatMessage, channel leads.Channel) error {
	ctx, span := s.tracer.Start(ctx, "conversation.store.save", trace.WithAttributes(
		attribute.String("leadflow.session_id", sessionID),
		attribute.Int("leadflow.history_len", len(history)),
	))
	defer span.End()

	if history == nil {
		history = []ChatMessage{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("conversation: encode history: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (session_id, channel, history)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			channel = EXCLUDED.channel,
			history = EXCLUDED.history,
			updated_at = now()`,
		sessionID, string(channel), data)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssociateWithLead(ctx context.Context, sessionID, leadID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET lead_id = $2, updated_at = now()
		WHERE session_id = $1 AND (lead_id IS NULL OR lead_id = $2)`,
		sessionID, leadID)
	if err != nil {
		return fmt.Errorf("conversation: associate lead: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.FindBySessionID(ctx, sessionID); err != nil {
		return err
	}
	return ErrLeadAlreadyLinked
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET state = 'completed', updated_at = now()
		WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("conversation: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CaptureLead runs lead insertion, session linking and completion in one
// transaction. The session row is locked first so concurrent captures for
// the same session serialize on it.
func (s *PostgresStore) CaptureLead(ctx context.Context, sessionID string, req *leads.CreateLeadRequest) (lead *leads.Lead, err error) {
	ctx, span := s.tracer.Start(ctx, "conversation.store.capture_lead", trace.WithAttributes(
		attribute.String("leadflow.session_id", sessionID),
	))
	defer span.End()

	if req != nil && req.SessionID == "" {
		req.SessionID = sessionID
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: begin capture: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var linked string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(lead_id::text, '') FROM conversations
		WHERE session_id = $1
		FOR UPDATE`, sessionID).Scan(&linked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: lock session: %w", err)
	}
	if linked != "" {
		return nil, ErrLeadAlreadyLinked
	}

	lead, err = leads.InsertLead(ctx, tx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET lead_id = $2, state = 'completed', updated_at = now()
		WHERE session_id = $1 AND lead_id IS NULL`, sessionID, lead.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: link lead: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrLeadAlreadyLinked
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: commit capture: %w", err)
	}
	committed = true
	span.SetAttributes(attribute.String("leadflow.lead_id", lead.ID))
	return lead, nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
