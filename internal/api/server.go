// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the HTTP surface: session lifecycle, uploads, the
// two-track and folder pipelines, admin configuration, progress events, and
// operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/opusai/opusmix/internal/admin"
	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/metrics"
	"github.com/opusai/opusmix/internal/pipeline"
	"github.com/opusai/opusmix/internal/progress"
	"github.com/opusai/opusmix/internal/session"
	"github.com/opusai/opusmix/internal/store"
)

// rateLimit bounds per-IP request rates on the mutating endpoints.
const (
	rateLimitRequests = 60
	rateLimitWindow   = time.Minute
)

// Server wires the HTTP handlers to the pipeline components.
type Server struct {
	orch     *pipeline.Orchestrator
	store    store.Store
	bus      progress.Bus
	admin    *admin.Store
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Deps carries the server's collaborators.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Store        store.Store
	Bus          progress.Bus
	Admin        *admin.Store
	Sessions     *session.Manager
	Metrics      *metrics.Metrics
}

// New returns a server over the given dependencies.
func New(d Deps) *Server {
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		orch:     d.Orchestrator,
		store:    d.Store,
		bus:      d.Bus,
		admin:    d.Admin,
		sessions: d.Sessions,
		metrics:  m,
		logger:   xlog.WithComponent("api"),
	}
}

// Router assembles the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Get("/events/{id}", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(rateLimitRequests, rateLimitWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))

		r.Post("/session", s.handleCreateSession)
		r.Post("/upload/{id}/{label}", s.handleUpload)
		r.Post("/generate/{id}", s.handleGenerate)
		r.Get("/generate/{id}/status", s.handleGenerateStatus)
		r.Get("/download/{id}", s.handleDownload)

		r.Post("/process-folder", s.handleProcessFolder)
		r.Get("/process-folder/{id}/status", s.handleFolderStatus)
		r.Get("/process-folder/{id}/set", s.handleFolderSet)
		r.Get("/process-folder/{id}/tracklist", s.handleFolderTracklist)

		r.Post("/cleanup", s.handleCleanup)

		r.Get("/admin/config", s.handleAdminGet)
		r.Post("/admin/config", s.handleAdminUpdate)
		r.Post("/admin/presets", s.handleAdminAddPreset)
		r.Delete("/admin/presets/{id}", s.handleAdminRemovePreset)
	})

	return r
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str(xlog.FieldRequestID, chimw.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
