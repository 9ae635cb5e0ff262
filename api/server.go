/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. RequestLogger: slog line per request
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. Metrics:       Prometheus counters by route pattern
  6. CORS:          Cross-origin requests for the dashboard

  Under /api only:
  7. Authenticate:  Bearer token -> compensation.Caller
  8. RateLimiter:   Per-caller token bucket

ROUTE GROUPS:
  /api/plans/*          Plan catalog
  /api/camps/*          Assignments, facts, records
  /api/me, /territories, /network   Rollups
  /api/audit            Audit trail
  /api/scenarios/*      Demo scenarios (when enabled)
  /metrics              Prometheus
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authentication, rate limiting, request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/incentive-engine/auth"
	"github.com/warp/incentive-engine/metrics"
)

// RouterConfig carries the router's collaborators. Metrics and Limiter
// are optional.
type RouterConfig struct {
	Tokens         *auth.Manager
	Limiter        *RateLimiter
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	DevScenarios   bool
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.Tokens))
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}

		// Plan catalog
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{code}", h.GetPlan)
			r.Put("/{code}", h.UpdatePlan)
			r.Post("/{code}/retire", h.RetirePlan)
		})

		// Camp sessions and their records
		r.Route("/camps/{campID}", func(r chi.Router) {
			r.Post("/assignments", h.AssignStaff)
			r.Put("/facts", h.RecordFacts)
			r.Post("/recompute", h.RecomputeCamp)
			r.Get("/summary", h.GetCampSummary)

			r.Route("/records/{staffID}", func(r chi.Router) {
				r.Get("/", h.GetRecord)
				r.Post("/finalize", h.FinalizeRecord)
				r.Post("/supersede", h.SupersedeRecord)
			})
		})

		// Rollups
		r.Get("/me/incentives", h.GetMyIncentives)
		r.Get("/territories/{tenantID}/incentives", h.GetTerritoryIncentives)
		r.Get("/network/incentives", h.GetNetworkIncentives)

		r.Get("/audit", h.ListAudit)

		// Scenario routes
		if cfg.DevScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
