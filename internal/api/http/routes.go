package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up run routes, status operations, health check, and Prometheus metrics endpoint.
func NewRouter(runs RunServiceI, status StatusServiceI, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	handler := NewRunHandler(runs, status, logger)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", handler.CreateRun)
		r.Get("/{runID}", handler.GetRun)
	})

	r.Get("/status", handler.Status)
	r.Get("/status/export", handler.ExportFiles)
	r.Post("/retry", handler.Retry)
	r.Post("/verify", handler.Verify)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
