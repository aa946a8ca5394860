/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the transaction form
  5. Metrics:    Request count and latency per route pattern

ROUTE GROUPS:
  /api/cashback/*       Engine queries (stats, progress, cycle, preview)
  /api/accounts/*       Accounts, their config, transactions and snapshots
  /api/categories/*     Categories
  /api/shops/*          Shops (merchant rules)
  /api/transactions/*   Transaction writes
  /metrics              Prometheus exposition
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics/prometheus.go: Collector middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/cashback-engine/metrics"
)

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	// Collector adds the metrics middleware and /metrics when set.
	Collector *metrics.Collector

	// CORSOrigins defaults to the local frontend dev servers.
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  h.Logger.WithField("component", "http"),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	if opts.Collector != nil {
		r.Use(opts.Collector.Middleware)
		r.Handle("/metrics", opts.Collector.Handler())
	}

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/cashback", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Get("/progress", h.GetProgress)
			r.Get("/cycle", h.GetCycle)
			r.Post("/preview", h.PreviewCashback)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}/cashback", h.UpdateCashbackConfig)
			r.Get("/{id}/transactions", h.ListAccountTransactions)
			r.Get("/{id}/snapshots", h.ListSnapshots)
			r.Post("/{id}/cycles/close", h.CloseCycle)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
		})

		r.Route("/shops", func(r chi.Router) {
			r.Get("/", h.ListShops)
			r.Post("/", h.CreateShop)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.CreateTransaction)
			r.Put("/{id}", h.UpdateTransaction)
		})
	})

	return r
}
