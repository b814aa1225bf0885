package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pzem016-mqtt/internal/telemetry"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Handle("/metrics", telemetry.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", telemetry.Instrument("health", http.HandlerFunc(s.handleHealth)))
		r.Method(http.MethodGet, "/metrics", telemetry.Instrument("metrics", http.HandlerFunc(s.handleMetrics)))

		r.Route("/readings", func(r chi.Router) {
			r.Method(http.MethodGet, "/", telemetry.Instrument("readings", http.HandlerFunc(s.handleListReadings)))
			r.Method(http.MethodGet, "/{addr}", telemetry.Instrument("reading", http.HandlerFunc(s.handleGetReadings)))
		})

		r.Method(http.MethodGet, "/tasks/events", telemetry.Instrument("task_events", http.HandlerFunc(s.handleTaskEvents)))

		// Upgraded connections bypass Instrument; its writer cannot hijack.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
