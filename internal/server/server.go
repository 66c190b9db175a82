// Package server provides the HTTP REST API for submitting and observing jobs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
)

// DefaultPollInterval is how often the event stream re-reads job status
const DefaultPollInterval = time.Second

// Orchestrator is the job control surface the API exposes
type Orchestrator interface {
	Submit(ctx context.Context, kind jobs.Kind, subjectID int64, payload pipeline.Payload) (uuid.UUID, error)
	Resume(ctx context.Context, jobID uuid.UUID, force bool) error
	Reset(ctx context.Context, jobID uuid.UUID, stageName string) (*jobs.Record, error)
	Status(ctx context.Context, jobID uuid.UUID) (*pipeline.Status, error)
}

// Lister lists job records
type Lister interface {
	List(ctx context.Context, filter jobs.ListFilter) ([]jobs.Record, error)
}

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	orch         Orchestrator
	jobs         Lister
	pinger       Pinger
	validate     *validator.Validate
	pollInterval time.Duration
	logger       *log.Logger
}

// Config holds server configuration
type Config struct {
	Addr         string
	Orchestrator Orchestrator
	Jobs         Lister
	// Pinger is optional; /health reports ok without it
	Pinger       Pinger
	PollInterval time.Duration
	Logger       *log.Logger
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job lister is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	s := &Server{
		orch:         cfg.Orchestrator,
		jobs:         cfg.Jobs,
		pinger:       cfg.Pinger,
		validate:     validator.New(),
		pollInterval: poll,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/transcribe", s.handleSubmitTranscribe)
	mux.HandleFunc("POST /jobs/synth", s.handleSubmitSynth)
	mux.HandleFunc("POST /jobs/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /jobs/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /jobs/{id}", s.handleStatus)
	mux.HandleFunc("GET /jobs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.withLogging(s.withCORS(mux)),
		ReadTimeout: 30 * time.Second,
		// No write timeout: event streams stay open for the life of a job
		IdleTimeout: 60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		s.logger.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFromErr writes err with the status HTTPStatus maps it to
func (s *Server) errorFromErr(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("[server] internal error: %v", err)
	}
	s.errorResponse(w, status, err.Error())
}
