// Package app assembles the HTTP surface and process-lifecycle helpers:
// route construction, readiness checks, and periodic maintenance tasks.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
)

// ParseOrigins turns the comma-separated CORS origin list into a slice.
// Empty input (or a bare "*") allows every origin; a "*" mixed in with
// concrete origins is dropped.
func ParseOrigins(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" && p != "*" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Recovery outermost, then correlation, deadline, tracing, logging.
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	// Backstop deadline above the orchestrator's own request timeout so the
	// 504 mapping fires first in normal operation.
	r.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout + 5*time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Processing endpoint: per-user budgets apply inside the orchestrator,
	// the IP limit here only blunts abusive clients.
	r.Group(func(pr chi.Router) {
		pr.Use(httprate.LimitByIP(cfg.IPRateLimitPerMin, 1*time.Minute))
		pr.Post("/v1/process", srv.ProcessHandler())
	})

	// Admin surface
	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Use(httprate.LimitByIP(cfg.IPRateLimitPerMin, 1*time.Minute))
		ar.Get("/rules", srv.RulesListHandler())
		ar.Post("/rules", srv.RuleCreateHandler())
		ar.Delete("/rules/{name}", srv.RuleDeleteHandler())
	})

	// Read-only queries
	r.Get("/v1/budget/{userId}", srv.BudgetHandler())
	r.Get("/v1/stats/{userId}", srv.StatsHandler())

	// Probes and scrape endpoint
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/readyz", srv.ReadyzHandler())

	return httpserver.SecurityHeaders(r)
}
