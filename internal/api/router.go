package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint, outside the versioned API.
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermStatusRead)).Get("/status", s.handleStatus)
			r.With(s.requirePermission(auth.PermStatusRead)).Get("/readiness", s.handleReadiness)
			r.With(s.requirePermission(auth.PermSystemMetricsRead)).Get("/system/metrics", s.handleSystemMetrics)
			r.With(s.requirePermission(auth.PermSystemRestore)).Post("/system/restore", s.handleRestore)

			r.Route("/devices", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)
				r.With(s.requirePermission(auth.PermCommissionManage)).Post("/refresh", s.handleRefreshAll)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/state", s.handleGetDeviceState)
					r.With(s.requirePermission(auth.PermCommissionManage)).Post("/refresh", s.handleRefreshDevice)
				})
			})

			r.Route("/commissioning", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermCommissionRead))
					r.Get("/session", s.handleSession)
					r.Get("/attempts", s.handleListAttempts)
					r.Get("/nearby", s.handleNearby)
				})
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermCommissionManage))
					r.Post("/commission", s.handleCommission)
					r.Post("/pair", s.handlePair)
					r.Post("/window", s.handleOpenWindow)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
