// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chengis/chengis/internal/config"
	"github.com/chengis/chengis/internal/dispatch"
	"github.com/chengis/chengis/internal/jobs"
	"github.com/chengis/chengis/internal/registry"
	"github.com/chengis/chengis/internal/store"
)

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer *http.Server
}

// New creates and wires up the API server around broadcaster (owned by
// the caller, so it can also be handed to a machineTracker that publishes
// build transitions). New does NOT start listening — call Run() for that.
func New(
	cfg *config.ServerConfig,
	broadcaster *EventBroadcaster,
	jobTable *jobs.Table,
	dispatcher *dispatch.Dispatcher,
	st store.Store,
	reg *registry.Registry,
	cancel CancelFunc,
) *Server {
	handlers := NewHandlers(broadcaster, jobTable, dispatcher, st, reg, cancel)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(1 << 20)) // 1 MB default

	// REST routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", handlers.CreateJob)
		r.Get("/jobs", handlers.ListJobs)
		r.Get("/jobs/{name}", handlers.GetJob)
		r.Post("/jobs/{name}/builds", handlers.TriggerBuild)
		r.Get("/jobs/{name}/builds", handlers.ListBuildsByJob)

		r.Get("/builds/{buildId}", handlers.GetBuild)
		r.Post("/builds/{buildId}/cancel", handlers.CancelBuild)

		r.Post("/agents", handlers.RegisterAgent)
		r.Get("/agents", handlers.ListAgents)
		r.Delete("/agents/{id}", handlers.DeregisterAgent)
		r.Post("/agents/{id}/heartbeat", handlers.HeartbeatAgent)
	})

	// WebSocket
	r.Get("/ws", broadcaster.Handler(cfg.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Run starts the HTTP server, blocking until it is shut down.
func (s *Server) Run(ctx context.Context) error {
	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
