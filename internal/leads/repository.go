package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the lead store used by the conversation core.
type Repository interface {
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	Update(ctx context.Context, id string, req *UpdateLeadRequest) (*Lead, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	TouchLastInteraction(ctx context.Context, id string) error
}

// AdminRepository backs the admin lead API.
type AdminRepository interface {
	GetByID(ctx context.Context, id string) (*Lead, error)
	List(ctx context.Context, filter ListFilter) ([]*Lead, error)
	MarkContacted(ctx context.Context, id string) (*Lead, error)
	Stats(ctx context.Context) (*Stats, error)
}

// FollowUpRepository backs the reminder sweeper.
type FollowUpRepository interface {
	ListNeedingFollowUp(ctx context.Context, q FollowUpQuery) ([]*Lead, error)
	RecordFollowUp(ctx context.Context, id string, at time.Time) error
}

const defaultListLimit = 50

// InMemoryRepository keeps leads in a map. Returned leads are copies.
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (r *InMemoryRepository) WithClock(now func() time.Time) *InMemoryRepository {
	r.now = now
	return r
}

// Create stores a new lead.
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := r.now()
	lead := &Lead{
		ID:                uuid.NewString(),
		Fields:            req.Fields,
		Urgency:           NormalizeString(req.Urgency),
		Notes:             req.Notes,
		Channel:           req.Channel,
		SessionID:         req.SessionID,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastInteractionAt: now,
	}

	r.mu.Lock()
	r.leads[lead.ID] = lead
	r.mu.Unlock()

	return lead.clone(), nil
}

// Update merges non-nil fields into the stored lead and replaces its status.
func (r *InMemoryRepository) Update(ctx context.Context, id string, req *UpdateLeadRequest) (*Lead, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	lead.Fields = lead.Fields.Merge(req.Fields.Normalize())
	if u := NormalizeString(req.Urgency); u != nil {
		lead.Urgency = u
	}
	if req.Notes != "" {
		lead.Notes = req.Notes
	}
	lead.UpdatedAt = r.now()
	return lead.clone(), nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.clone(), nil
}

// TouchLastInteraction refreshes LastInteractionAt.
func (r *InMemoryRepository) TouchLastInteraction(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return ErrLeadNotFound
	}
	lead.LastInteractionAt = r.now()
	return nil
}

// List returns leads newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	r.mu.RLock()
	matched := make([]*Lead, 0, len(r.leads))
	for _, lead := range r.leads {
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && lead.Channel != filter.Channel {
			continue
		}
		if filter.Contacted != nil && lead.Contacted != *filter.Contacted {
			continue
		}
		matched = append(matched, lead.clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

// MarkContacted flags the lead as handled by a human.
func (r *InMemoryRepository) MarkContacted(ctx context.Context, id string) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	now := r.now()
	lead.Contacted = true
	lead.ContactedAt = &now
	lead.UpdatedAt = now
	return lead.clone(), nil
}

// Stats counts leads by status and channel.
func (r *InMemoryRepository) Stats(ctx context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := newStats()
	for _, lead := range r.leads {
		stats.add(lead.Status, lead.Channel, lead.Contacted, 1)
	}
	return stats, nil
}

// ListNeedingFollowUp returns uncontacted leads idle since q.IdleSince.
func (r *InMemoryRepository) ListNeedingFollowUp(ctx context.Context, q FollowUpQuery) ([]*Lead, error) {
	r.mu.RLock()
	var out []*Lead
	for _, lead := range r.leads {
		if lead.Contacted || lead.Status != q.Status {
			continue
		}
		if lead.LastInteractionAt.After(q.IdleSince) {
			continue
		}
		if lead.LastFollowUpAt != nil && lead.LastFollowUpAt.After(q.NotRemindedSince) {
			continue
		}
		out = append(out, lead.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastInteractionAt.Before(out[j].LastInteractionAt)
	})
	return paginate(out, q.Limit, 0), nil
}

// RecordFollowUp stores when the last reminder went out.
func (r *InMemoryRepository) RecordFollowUp(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return ErrLeadNotFound
	}
	t := at.UTC()
	lead.LastFollowUpAt = &t
	return nil
}

func (l *Lead) clone() *Lead {
	if l == nil {
		return nil
	}
	out := *l
	return &out
}

func paginate(leads []*Lead, limit, offset int) []*Lead {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(leads) {
		return []*Lead{}
	}
	leads = leads[offset:]
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit < len(leads) {
		leads = leads[:limit]
	}
	return leads
}

func newStats() *Stats {
	return &Stats{
		ByStatus:  map[Status]int{StatusCold: 0, StatusWarm: 0, StatusHot: 0},
		ByChannel: map[Channel]int{},
	}
}

func (s *Stats) add(status Status, channel Channel, contacted bool, n int) {
	s.Total += n
	if contacted {
		s.Contacted += n
	} else {
		s.Uncontacted += n
	}
	s.ByStatus[status] += n
	s.ByChannel[channel] += n
}
