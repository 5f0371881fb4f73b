/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for browser clients

SECURITY NOTE:
  No authentication middleware. The ledger is shared by a handful of
  trusted operators on a private network.

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
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Cache-Control", "X-Client-ID", "X-Request-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Shared ledger snapshot exchange
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", h.GetLedger)
			r.Post("/", h.SaveLedger)
			r.Post("/lock", h.AcquireLock)
			r.Post("/unlock", h.ReleaseLock)
		})

		// Server-side collection operations
		r.Route("/collection", func(r chi.Router) {
			r.Get("/state", h.GetCollectionState)
			r.Post("/register", h.RegisterCollection)
			r.Post("/swap", h.SwapCylinder)
			r.Post("/undo", h.UndoCollection)
			r.Get("/export.csv", h.ExportCSV)
		})

		// Liveness probe
		r.Get("/health", h.Health)
		r.Head("/health", h.Health)
	})

	return r
}
