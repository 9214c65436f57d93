// Package server provides the HTTP REST API for the invoice pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/invoice-pipeline/internal/store"
	"github.com/jonathan/invoice-pipeline/internal/types"
	"github.com/jonathan/invoice-pipeline/internal/worker"
)

// Executor runs one pipeline execution to completion. It is implemented by
// pipeline.Runner.
type Executor interface {
	Run(ctx context.Context, run *types.PipelineRun) (types.RunResult, error)
}

// Config holds server configuration.
type Config struct {
	Port           int
	Workers        int
	QueueSize      int
	UploadDir      string
	MaxUploadBytes int64
}

// Server represents the HTTP server. Uploaded invoices are queued onto a
// bounded worker pool; results are read back from the store.
type Server struct {
	httpServer *http.Server
	store      store.Store
	executor   Executor
	pool       *worker.Pool
	uploadDir  string
	maxUpload  int64
}

// New creates a server over the given store and executor.
func New(cfg Config, st store.Store, executor Executor) (*Server, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload directory not configured")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}

	s := &Server{
		store:     st,
		executor:  executor,
		uploadDir: cfg.UploadDir,
		maxUpload: cfg.MaxUploadBytes,
	}
	s.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, s.executeRun)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoices", s.handleCreateInvoice)
	mux.HandleFunc("GET /invoices", s.handleListInvoices)
	mux.HandleFunc("GET /invoices/{id}", s.handleGetInvoice)
	mux.HandleFunc("DELETE /invoices/{id}", s.handleDeleteInvoice)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for synchronous result reads
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start begins listening and blocks until SIGINT/SIGTERM, then drains the
// worker pool and shuts down gracefully.
func (s *Server) Start() error {
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	s.pool.Start(poolCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.pool.Shutdown()
	s.store.Close()
	log.Println("Server stopped")
	return nil
}

// executeRun is the worker pool's run function: it executes the pipeline
// and persists both the final run state and the result.
func (s *Server) executeRun(ctx context.Context, run *types.PipelineRun) {
	// Persist the running state first so pollers see in-flight runs.
	run.Status = types.RunStatusRunning
	if err := s.store.UpdateRun(ctx, run); err != nil && ctx.Err() == nil {
		log.Printf("run %s: failed to persist state: %v", run.ID, err)
	}

	result, err := s.executor.Run(ctx, run)
	if err != nil {
		log.Printf("run %s: %v", run.ID, err)
		return
	}
	// ErrNotFound after execution means the run was deleted while in
	// flight; its result is dropped, not re-inserted.
	if err := s.store.UpdateRun(ctx, run); err != nil && ctx.Err() == nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("run %s: failed to persist state: %v", run.ID, err)
	}
	if err := s.store.SaveResult(ctx, result); err != nil && ctx.Err() == nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("run %s: failed to persist result: %v", run.ID, err)
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
