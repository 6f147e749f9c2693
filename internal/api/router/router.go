package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/leadflow-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/leadflow-ai/internal/http/middleware"
	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// adminRoles may call the lead and session admin routes.
var adminRoles = []string{"owner", "admin"}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *conversation.Handler
	LeadsHandler       *leads.Handler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// ChatLimiter throttles POST /chat/message per client IP when set.
	ChatLimiter *httpmiddleware.RateLimiter
	// ReadyChecks are run by /ready; any error reports the service unready.
	ReadyChecks map[string]func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg.ReadyChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ChatHandler != nil {
		r.Route("/chat", func(chat chi.Router) {
			chat.Group(func(public chi.Router) {
				if cfg.ChatLimiter != nil {
					public.Use(httpmiddleware.RateLimit(cfg.ChatLimiter))
				}
				public.Post("/message", cfg.ChatHandler.Message)
			})
			if cfg.AdminAuthSecret != "" {
				chat.With(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, adminRoles...)).
					Get("/sessions/{sessionID}", cfg.ChatHandler.Session)
			}
		})
	}

	// Admin routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && cfg.LeadsHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, adminRoles...))
			admin.Route("/leads", cfg.LeadsHandler.Routes)
		})
	}

	return r
}
