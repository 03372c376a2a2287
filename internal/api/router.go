package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device call endpoints
			r.Route("/rpc", func(r chi.Router) {
				r.Post("/oneway/{targetId}", s.handleOneWayCall)
				r.Post("/twoway/{targetId}", s.handleTwoWayCall)

				r.Route("/persistent", func(r chi.Router) {
					r.Get("/{rpcId}", s.handleGetCall)
					r.Delete("/{rpcId}", s.handleDeleteCall)
					r.Get("/target/{targetId}", s.handleListCalls)
				})
			})

			// Rule-engine push endpoint
			r.Post("/engine/{entityType}/{entityId}/{queueName}/{timeout}", s.handleEnginePush)

			// Device catalog endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Put("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
				})
			})

			// WebSocket lifecycle event stream
			r.Get("/ws", s.handleWebSocket)
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
