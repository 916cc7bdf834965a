/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the allowed origins

ROUTE GROUPS:
  /health               Liveness
  /api/runs/*           Run execution, lookup, transitions, recalculation
  /api/payrolls/*       Runs of a payroll
  /api/employees/*      Leave balances
  /api/config           Configuration loading

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.ExecuteRun)
			r.Post("/batch", h.ExecuteBatch)
			r.Get("/{id}", h.GetRun)
			r.Get("/{id}/audit", h.GetAuditTrail)
			r.Get("/{id}/progress", h.GetProgress)
			r.Post("/{id}/transition", h.TransitionRun)
			r.Post("/{id}/recalculate", h.RecalculateRun)
		})

		r.Get("/payrolls/{id}/runs", h.ListPayrollRuns)
		r.Get("/employees/{id}/leave", h.GetLeaveBalances)
		r.Post("/config", h.LoadConfig)
	})

	return r
}
