/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       Caller identity for /api (see auth.go)

ROUTE GROUPS:
  /healthz              Liveness and last expiry sweep
  /api/time-entries/*   Time entries
  /api/submissions/*    Weekly submissions and review
  /api/toil/*           TOIL balance queries
  /api/activity         Audit trail
  /api/admin/*          Admin operations
  /api/scenarios/*      Demo scenarios (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Auth        *Authenticator
	CORSOrigins []string

	// Scheduler, when set, is reported by /healthz.
	Scheduler *ExpiryScheduler

	// EnableScenarios mounts the demo scenario routes.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("")
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-User-ID", "X-User-Role"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if cfg.Scheduler != nil {
			last, result := cfg.Scheduler.LastRun()
			if !last.IsZero() {
				resp["last_expiry_sweep"] = last.UTC().Format(time.RFC3339)
				resp["last_expiry_marked"] = result.MarkedExpired
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Route("/time-entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Get("/summary", h.GetSummary)
			r.Get("/{id}", h.GetEntry)
			r.Patch("/{id}", h.UpdateEntry)
			r.Delete("/{id}", h.DeleteEntry)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.SubmitWeek)
			r.Get("/status", h.GetSubmissionStatus)
			r.Get("/pending", h.ListPendingSubmissions)
			r.Post("/bulk-approve", h.BulkApprove)
			r.Post("/bulk-reject", h.BulkReject)
			r.Get("/{id}", h.GetSubmission)
			r.Post("/{id}/approve", h.ApproveSubmission)
			r.Post("/{id}/reject", h.RejectSubmission)
		})

		r.Route("/toil", func(r chi.Router) {
			r.Get("/balance", h.GetToilBalance)
			r.Get("/history", h.GetToilHistory)
			r.Get("/expiring", h.GetExpiringToil)
		})

		r.Get("/activity", h.ListActivity)

		r.Route("/admin", func(r chi.Router) {
			r.Put("/users/{id}", h.PutUser)
			r.Post("/capacity", h.CreateCapacity)
			r.Post("/toil/expire", h.ExpireToil)
			r.Post("/tokens", h.CreateToken)
		})

		if cfg.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
