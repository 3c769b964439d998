package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)

	// WebSocket. No timeout middleware: the connection is long-lived.
	r.Get("/ws", h.handleWS)

	// Read-only HTTP API
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/healthz", h.handleHealth)
		r.Get("/api/queue/{category}/stats", h.handleQueueStats)
		r.Get("/api/players/{identity}/statistics", h.handlePlayerStatistics)
		r.Get("/api/players/{identity}/matches", h.handlePlayerMatches)
	})

	return r
}
