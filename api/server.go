/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     One structured zap line per request
  4. Metrics:    Request duration histogram
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/entries/*   Entry merge and queries
  /api/summary/*   Week and identity summaries
  /api/admin/*     Migrations, reports, schema refresh
  /metrics         Prometheus scrape endpoint
  /                Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  The service is deployed behind the office VPN.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/worktracker/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/entries", func(r chi.Router) {
			r.Post("/bulk_upsert", h.BulkUpsert)
			r.Get("/", h.ListEntries)
			r.Get("/check", h.CheckWeek)
			r.Delete("/{id}", h.DeleteEntry)
		})

		r.Route("/summary", func(r chi.Router) {
			r.Get("/week", h.WeekSummary)
			r.Get("/users", h.WeekUsers)
			r.Get("/all-users", h.AllUsers)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/migrate-locations", h.MigrateLocations)
			r.Post("/send-weekly-report", h.SendWeeklyReport)
			r.Get("/report-runs", h.ListReportRuns)
			r.Post("/schema/refresh", h.RefreshSchema)
			r.Get("/debug", h.Debug)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Health)

	return r
}
