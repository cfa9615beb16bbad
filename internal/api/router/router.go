// Package router assembles the HTTP surface: webhook sinks, read endpoints
// and operational routes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/enercall/webhook-relay/internal/audit"
	httpmiddleware "github.com/enercall/webhook-relay/internal/http/middleware"
	"github.com/enercall/webhook-relay/internal/webhook"
	"github.com/enercall/webhook-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Webhook        *webhook.Handler
	Recorder       audit.Recorder
	MetricsHandler http.Handler

	AdminJWTSecret     string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.Recorder != nil {
		r.Use(httpmiddleware.Capture(cfg.Recorder))
	}

	// Public endpoints (webhook sinks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Webhook.HealthCheck)
		public.Post("/webhook", cfg.Webhook.HandleCallWebhook)
		public.Post("/webhook/cloudtalk", cfg.Webhook.HandleCallWebhook)
		public.Post("/api/whatsapp-webhook", cfg.Webhook.HandleWhatsAppWebhook)
		public.Post("/api/send-message", cfg.Webhook.HandleSendMessage)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Read and operations endpoints, behind admin JWT when configured.
	r.Group(func(reads chi.Router) {
		if cfg.AdminJWTSecret != "" {
			reads.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
		}
		reads.Get("/api/requests", cfg.Webhook.HandleRecentRequests)
		reads.Get("/api/webhooks", cfg.Webhook.HandleListWebhooks(false))
		reads.Get("/api/call-webhooks", cfg.Webhook.HandleListWebhooks(true))
		reads.Get("/api/calls", cfg.Webhook.HandleListCalls)
		reads.Get("/api/calls/{callID}", cfg.Webhook.HandleGetCall)
		reads.Post("/api/outbound-queue/drain", cfg.Webhook.HandleDrainQueue)
	})

	return r
}
