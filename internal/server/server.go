// Package server provides the HTTP API for submitting recordings and
// querying pipeline state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/artifact"
	"github.com/mkramer/session-insights/internal/ledger"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/server/middleware"
	"github.com/mkramer/session-insights/internal/types"
)

// maxUploadBytes caps a single recording upload.
const maxUploadBytes = 1 << 30

// Pipeline is the slice of the orchestrator the API needs.
type Pipeline interface {
	Submit(ctx context.Context, sessionID uuid.UUID, rawRef string) (*types.Session, error)
	Cancel(ctx context.Context, sessionID uuid.UUID, reason string) error
}

// Config holds server configuration.
type Config struct {
	Port            int
	IngestJWTSecret string
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	ledger     ledger.Ledger
	store      artifact.Store
	pipeline   Pipeline
	log        *logger.Logger
}

// New creates a server over an already-wired pipeline. An empty JWT secret
// disables authentication, which is the local-development mode.
func New(cfg Config, led ledger.Ledger, store artifact.Store, pipeline Pipeline, log *logger.Logger) *Server {
	s := &Server{
		ledger:   led,
		store:    store,
		pipeline: pipeline,
		log:      log.WithComponent("server"),
	}

	protect := func(h http.Handler) http.Handler { return h }
	if cfg.IngestJWTSecret != "" {
		protect = middleware.Auth(NewJWTService(cfg.IngestJWTSecret, 0).AsTokenValidator())
	}

	mux := http.NewServeMux()
	mux.Handle("POST /sessions", protect(http.HandlerFunc(s.handleSubmitSession)))
	mux.Handle("POST /sessions/{id}/cancel", protect(http.HandlerFunc(s.handleCancelSession)))
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/artifacts/{kind}", s.handleGetArtifact)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  300 * time.Second, // large uploads
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM,
// then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Fatal("server error")
		}
	}()

	<-stop
	s.log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entry := s.log.WithRequest(r)
		next.ServeHTTP(w, r)
		entry.WithField("duration", time.Since(start).String()).Info("request completed")
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("failed to encode JSON response")
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
