package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

// MemoryStore keeps sessions in process and creates leads through an
// in-memory lead repository. It is meant for local development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	leads    leads.Repository
	now      func() time.Time
}

func NewMemoryStore(repo leads.Repository) *MemoryStore {
	if repo == nil {
		repo = leads.NewInMemoryRepository()
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		leads:    repo,
		now:      time.Now,
	}
}

func (s *MemoryStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, sessionID string, history []ChatMessage, channel leads.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, State: StateActive, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.Channel = channel
	sess.History = append([]ChatMessage(nil), history...)
	sess.UpdatedAt = now
	return nil
}

func (s *MemoryStore) AssociateWithLead(ctx context.Context, sessionID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.LeadID != "" && sess.LeadID != leadID {
		return ErrLeadAlreadyLinked
	}
	sess.LeadID = leadID
	sess.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.State = StateCompleted
	sess.UpdatedAt = s.now()
	return nil
}

// CaptureLead holds the store mutex across lead creation so no other caller
// can observe a created but unlinked lead.
func (s *MemoryStore) CaptureLead(ctx context.Context, sessionID string, req *leads.CreateLeadRequest) (*leads.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.LeadID != "" {
		return nil, ErrLeadAlreadyLinked
	}
	if req != nil && req.SessionID == "" {
		req.SessionID = sessionID
	}
	lead, err := s.leads.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	sess.LeadID = lead.ID
	sess.State = StateCompleted
	sess.UpdatedAt = s.now()
	return lead, nil
}
