/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/*                      Authenticated application API
  /webhooks/stripe            Provider webhook (signature-verified)
  /jobs/update-passed-hours   Sweep trigger (static bearer)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
	}))

	// Application API (authenticated)
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor(h.Config.JWTSecret))

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", h.ListSlots)
			r.Post("/", h.CreateSlot)
			r.Get("/{id}", h.GetSlot)
			r.Post("/{id}/reserve", h.ReserveSlot)
			r.Post("/{id}/cancel", h.CancelSlot)
			r.Post("/{id}/comment", h.CommentSlot)
		})

		r.Route("/me", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/payments", h.ListMyPayments)
			r.Get("/school", h.GetMySchool)
		})

		r.Get("/packages", h.ListPackages)
		r.Get("/packages/{id}", h.GetPackage)
	})

	// Machine endpoints (own credential schemes)
	r.Post("/webhooks/stripe", h.StripeWebhook)
	r.Post("/jobs/update-passed-hours", h.UpdatePassedHours)

	return r
}
