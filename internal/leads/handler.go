package leads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// Handler serves the admin lead API.
type Handler struct {
	repo   AdminRepository
	logger *logging.Logger
}

// NewHandler creates a new leads handler
func NewHandler(repo AdminRepository, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("leads: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// Routes mounts the admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.ListLeads)
	r.Get("/stats", h.GetStats)
	r.Get("/{leadID}", h.GetLead)
	r.Post("/{leadID}/contacted", h.MarkContacted)
}

// ListLeadsResponse is the response for listing leads
type ListLeadsResponse struct {
	Leads  []*Lead `json:"leads"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// ListLeads handles GET /admin/leads
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Limit:  defaultListLimit,
		Offset: 0,
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if raw := q.Get("channel"); raw != "" {
		channel := Channel(raw)
		if !channel.Valid() {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		filter.Channel = channel
	}
	if raw := q.Get("contacted"); raw != "" {
		contacted, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid contacted flag", http.StatusBadRequest)
			return
		}
		filter.Contacted = &contacted
	}

	leads, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list leads", "error", err)
		http.Error(w, "failed to list leads", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ListLeadsResponse{
		Leads:  leads,
		Count:  len(leads),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}

// GetLead handles GET /admin/leads/{leadID}
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "leadID")
	lead, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err, id, "failed to get lead")
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// MarkContacted handles POST /admin/leads/{leadID}/contacted
func (h *Handler) MarkContacted(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "leadID")
	lead, err := h.repo.MarkContacted(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, err, id, "failed to mark lead contacted")
		return
	}
	h.logger.Info("lead marked contacted", "lead_id", lead.ID)
	writeJSON(w, http.StatusOK, lead)
}

// GetStats handles GET /admin/leads/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute lead stats", "error", err)
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error, id, msg string) {
	if errors.Is(err, ErrLeadNotFound) {
		http.Error(w, "lead not found", http.StatusNotFound)
		return
	}
	h.logger.Error(msg, "error", err, "lead_id", id)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
