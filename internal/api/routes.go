package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the control API router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Get("/queue", h.Queue)
			r.Get("/queue/length", h.StreamLength)
			r.Post("/queue/operations", h.Enqueue)
			r.Post("/queue/flush", h.Flush)
			r.Delete("/queue", h.Clear)

			r.Get("/shifts/active", h.ActiveShift)
			r.Post("/shifts/start", h.StartShift)
			r.Post("/shifts/end", h.EndShift)
		})
	})

	return r
}
