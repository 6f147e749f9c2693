package conversation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const maxMessageBody = 64 << 10

// Handler wires HTTP requests to the conversation core.
type Handler struct {
	processor TurnProcessor
	sessions  SessionStore
	validate  *validator.Validate
	logger    *logging.Logger
}

// NewHandler creates a conversation handler. sessions may be nil, in which
// case the session lookup route is not served.
func NewHandler(processor TurnProcessor, sessions SessionStore, logger *logging.Logger) *Handler {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		processor: processor,
		sessions:  sessions,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// ChatRequest is the inbound chat contract.
type ChatRequest struct {
	Message   string `json:"message" validate:"required,min=1"`
	SessionID string `json:"sessionId" validate:"required,min=1"`
	Channel   string `json:"channel" validate:"required,oneof=web whatsapp instagram"`
}

// LeadView is the lead block of the outbound contract.
type LeadView struct {
	Name          *string `json:"name"`
	Phone         *string `json:"phone"`
	Service       *string `json:"service"`
	Commune       *string `json:"commune"`
	Status        string  `json:"status"`
	Complete      bool    `json:"complete"`
	PriorityLevel int     `json:"priorityLevel"`
}

// ChatResponse is the outbound chat contract.
type ChatResponse struct {
	ReplyText            string   `json:"replyText"`
	Lead                 LeadView `json:"lead"`
	ConversationComplete bool     `json:"conversationComplete"`
	LeadSaved            bool     `json:"leadSaved"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Message handles POST /chat/message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody))
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("failed to decode chat request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fieldErrors(err)})
		return
	}

	result, err := h.processor.ProcessMessage(r.Context(), MessageRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		Channel:   leads.Channel(req.Channel),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrLockTimeout) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("failed to process message", "error", err, "session_id", req.SessionID)
		h.writeJSON(w, status, errorResponse{Error: "failed to process message"})
		return
	}

	h.writeJSON(w, http.StatusOK, toChatResponse(result))
}

// Session handles GET /chat/sessions/{sessionID}.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session lookup disabled"})
		return
	}
	id := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.FindBySessionID(r.Context(), id)
	if errors.Is(err, ErrSessionNotFound) {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "error", err, "session_id", id)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load session"})
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func toChatResponse(result *TurnResult) ChatResponse {
	fields := result.Fields
	status := result.Status
	if !status.Valid() {
		status = leads.StatusCold
	}
	return ChatResponse{
		ReplyText: result.Reply,
		Lead: LeadView{
			Name:          fields.Name,
			Phone:         fields.Phone,
			Service:       fields.Service,
			Commune:       fields.Commune,
			Status:        string(status),
			Complete:      fields.Complete(),
			PriorityLevel: status.PriorityLevel(),
		},
		ConversationComplete: result.SessionComplete,
		LeadSaved:            result.LeadSaved,
	}
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[jsonFieldName(fe.Field())] = fe.Tag()
	}
	return out
}

func jsonFieldName(field string) string {
	switch field {
	case "SessionID":
		return "sessionId"
	case "Message":
		return "message"
	case "Channel":
		return "channel"
	default:
		return field
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
