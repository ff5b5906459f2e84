// Package web exposes the ops HTTP surface: health checks and on-demand
// ingestion triggers. The analytics API is served elsewhere.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Scheduler accepts on-demand ingestion requests.
type Scheduler interface {
	Enqueue(userID string) bool
}

// Server is the ops HTTP server.
type Server struct {
	router    chi.Router
	server    *http.Server
	scheduler Scheduler
	log       *logrus.Logger
}

// NewServer creates the ops server.
func NewServer(addr string, scheduler Scheduler, log *logrus.Logger) *Server {
	router := chi.NewRouter()
	s := &Server{
		router:    router,
		scheduler: scheduler,
		log:       log,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/ingest/{userID}", s.handleIngest)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleIngest enqueues one ingestion unit. 202 means queued, not ingested;
// the unit runs on the background pool.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}
	if !s.scheduler.Enqueue(userID) {
		http.Error(w, "ingestion queue full", http.StatusServiceUnavailable)
		return
	}
	s.log.WithFields(logrus.Fields{
		"component": "web",
		"user_id":   userID,
	}).Info("ingestion requested")
	w.WriteHeader(http.StatusAccepted)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{
		"component": "web",
		"addr":      s.server.Addr,
	}).Info("ops server listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
