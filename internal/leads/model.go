package leads

import (
	"strings"
	"time"
)

// Status is the lead temperature.
type Status string

const (
	StatusCold Status = "cold"
	StatusWarm Status = "warm"
	StatusHot  Status = "hot"
)

// Valid reports whether s is one of the known temperatures.
func (s Status) Valid() bool {
	switch s {
	case StatusCold, StatusWarm, StatusHot:
		return true
	}
	return false
}

// PriorityLevel ranks a status for outbound consumers: hot 3, warm 2, cold 1.
func (s Status) PriorityLevel() int {
	switch s {
	case StatusHot:
		return 3
	case StatusWarm:
		return 2
	default:
		return 1
	}
}

// ParseStatus parses a status string, case-insensitively. It is meant for
// query filters; model output must match a Status exactly.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Channel identifies where a conversation takes place.
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelWhatsApp, ChannelInstagram:
		return true
	}
	return false
}

// Fields are the contact details extracted from a conversation turn.
// A nil pointer means the value is unknown.
type Fields struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Service *string `json:"service"`
	Commune *string `json:"commune"`
	Status  Status  `json:"status"`
}

// Complete reports whether enough contact data exists to create a lead:
// a name plus either a phone or a service.
func (f Fields) Complete() bool {
	return f.Name != nil && (f.Phone != nil || f.Service != nil)
}

// Merge returns f with every non-nil value of other copied over it.
// Known values are never replaced by nil. Status is taken from other when set.
func (f Fields) Merge(other Fields) Fields {
	out := f
	if other.Name != nil {
		out.Name = other.Name
	}
	if other.Phone != nil {
		out.Phone = other.Phone
	}
	if other.Service != nil {
		out.Service = other.Service
	}
	if other.Commune != nil {
		out.Commune = other.Commune
	}
	if other.Status.Valid() {
		out.Status = other.Status
	}
	return out
}

// Normalize trims values and turns blank strings into nil.
func (f Fields) Normalize() Fields {
	f.Name = NormalizeString(f.Name)
	f.Phone = NormalizeString(f.Phone)
	f.Service = NormalizeString(f.Service)
	f.Commune = NormalizeString(f.Commune)
	return f
}

// NormalizeString trims s and returns nil when nothing is left.
func NormalizeString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	return NormalizeString(&s)
}

// Value dereferences s, returning "" for nil.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Lead is a persisted lead record.
type Lead struct {
	ID string `json:"id"`
	Fields
	Urgency           *string    `json:"urgency,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Contacted         bool       `json:"contacted"`
	ContactedAt       *time.Time `json:"contacted_at,omitempty"`
	Channel           Channel    `json:"channel"`
	SessionID         string     `json:"session_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastInteractionAt time.Time  `json:"last_interaction_at"`
	LastFollowUpAt    *time.Time `json:"last_follow_up_at,omitempty"`
}

// DisplayName returns the best human label for the lead.
func (l *Lead) DisplayName() string {
	if l == nil {
		return ""
	}
	if l.Name != nil {
		return *l.Name
	}
	if l.Phone != nil {
		return *l.Phone
	}
	return "lead " + l.ID
}

// CreateLeadRequest carries the data needed to persist a new lead.
type CreateLeadRequest struct {
	Fields    Fields
	Urgency   *string
	Notes     string
	Channel   Channel
	SessionID string
}

// Validate checks the request before persistence.
func (r *CreateLeadRequest) Validate() error {
	if r == nil {
		return ErrInvalidRequest
	}
	r.Fields = r.Fields.Normalize()
	if r.Fields.Name == nil {
		return ErrInvalidName
	}
	if r.Fields.Phone == nil && r.Fields.Service == nil {
		return ErrMissingContact
	}
	if !r.Fields.Status.Valid() {
		return ErrInvalidStatus
	}
	if r.Channel == "" {
		r.Channel = ChannelWeb
	}
	if !r.Channel.Valid() {
		return ErrInvalidChannel
	}
	return nil
}

// UpdateLeadRequest merges newly extracted data into an existing lead.
type UpdateLeadRequest struct {
	Fields  Fields
	Urgency *string
	Notes   string
}

// ListFilter narrows admin listings.
type ListFilter struct {
	Status    Status
	Channel   Channel
	Contacted *bool
	Limit     int
	Offset    int
}

// Stats aggregates lead counts for the admin dashboard.
type Stats struct {
	Total       int             `json:"total"`
	Contacted   int             `json:"contacted"`
	Uncontacted int             `json:"uncontacted"`
	ByStatus    map[Status]int  `json:"by_status"`
	ByChannel   map[Channel]int `json:"by_channel"`
}

// FollowUpQuery selects leads awaiting a reminder.
type FollowUpQuery struct {
	Status Status
	// IdleSince is the cutoff: leads whose last interaction is older qualify.
	IdleSince time.Time
	// NotRemindedSince skips leads reminded after this instant.
	NotRemindedSince time.Time
	Limit            int
}
