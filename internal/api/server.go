// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: session lifecycle, stage-result
// ingest, status and operational probes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/decluttered-ai/reportd/internal/bus"
	"github.com/decluttered-ai/reportd/internal/coordinator"
	"github.com/decluttered-ai/reportd/internal/health"
	"github.com/decluttered-ai/reportd/internal/session"
)

// Server bundles the HTTP handlers with their collaborators.
type Server struct {
	coord     *coordinator.Coordinator
	events    *bus.MemoryBus
	healthMgr *health.Manager
	defaults  session.Config
	rpm       int
}

// New constructs the API server. rpm bounds requests per client IP per
// minute; defaults fill start requests that omit a field.
func New(coord *coordinator.Coordinator, events *bus.MemoryBus, healthMgr *health.Manager, defaults session.Config, rpm int) *Server {
	return &Server{
		coord:     coord,
		events:    events,
		healthMgr: healthMgr,
		defaults:  defaults,
		rpm:       rpm,
	}
}

// Router assembles the route tree with the shared middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	if s.rpm > 0 {
		r.Use(httprate.LimitByIP(s.rpm, time.Minute))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/stop", s.handleStopSession)
		r.Post("/results", s.handleIngestResult)
		r.Get("/status", s.handleStatus)
		r.Post("/admin/cleanup", s.handleCleanup)
	})

	r.Get("/healthz", s.healthMgr.ServeHealth)
	r.Get("/readyz", s.healthMgr.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
