package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Get("/projects/{id}", h.GetProject)
			r.Get("/devlogs/{id}", h.GetDevLog)
			r.Get("/devlogs/{id}/comments/{slackID}", h.GetComment)
			r.Get("/users/{slackID}", h.GetUser)
			r.Get("/users/{slackID}/shells", h.GetShellHistory)
			r.Get("/checkpoints", h.ListCheckpoints)
			r.Get("/index/stats", h.GetIndexStats)
			r.Post("/search", h.Search)
		})
	})

	return r
}
