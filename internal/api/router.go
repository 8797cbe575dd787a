package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanjaemi/hanjaemi/internal/database"
	mw "github.com/hanjaemi/hanjaemi/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Completion proxy
	Chat       http.HandlerFunc
	Transcribe http.HandlerFunc
	Speech     http.HandlerFunc

	// Usage accounting
	GetUsage    http.HandlerFunc
	RecordUsage http.HandlerFunc

	// Chat history
	ListSessionMessages http.HandlerFunc

	// Request audit log
	ListAuditLogs http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler

	// Event bus health; nil when NATS is disabled
	EventBusHealthy func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	ChatRateLimiter    func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe: checks DB and the event bus
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"events":   "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if h.EventBusHealthy != nil {
			if !h.EventBusHealthy() {
				health["events"] = "unhealthy"
				health["status"] = "degraded"
			}
		} else {
			health["events"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Completion proxy, optionally rate-limited per IP
			r.Group(func(r chi.Router) {
				if cfg.ChatRateLimiter != nil {
					r.Use(cfg.ChatRateLimiter)
				}
				r.Post("/chat", h.Chat)
				r.Post("/speaking/transcribe", h.Transcribe)
				r.Post("/speaking/speech", h.Speech)
			})

			r.Get("/chat/sessions/{sessionID}/messages", h.ListSessionMessages)

			r.Get("/usage", h.GetUsage)
			r.Post("/usage", h.RecordUsage)

			r.Get("/audit", h.ListAuditLogs)
		})
	})

	return r
}
