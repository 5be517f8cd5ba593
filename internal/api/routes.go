package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a router with all routes configured. The health
// probe stays outside the auth group; the websocket stream stays
// outside the logging wrapper because it hijacks the connection.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Health)

	auth := AuthMiddleware(h.token, h.logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(auth).Get("/stream", h.Stream)

		r.Group(func(r chi.Router) {
			r.Use(LoggingMiddleware(h.logger))
			r.Use(auth)
			r.Get("/tables", h.ListTables)
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{id}", h.GetRun)
			r.Get("/stats", h.GetStats)
			r.Post("/tables/{name}/cycle", h.TriggerCycle)
		})
	})

	return r
}
