package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/isdmx/coderunner/config"
	"github.com/isdmx/coderunner/sandbox"
)

// maxRequestBytes bounds the size of a submitted snippet request
const maxRequestBytes = 1 << 20

// RunRequest is the body of POST /run
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// RunResponse is the body returned by POST /run
type RunResponse struct {
	Output   string `json:"output"`
	Language string `json:"language,omitempty"`
}

// Server is the HTTP front of the sandbox
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	runner     sandbox.Service
	router     *chi.Mux
	httpServer *http.Server
}

// New creates a Server. mcpHandler may be nil.
func New(cfg *config.Config, logger *zap.Logger, runner sandbox.Service, mcpHandler http.Handler) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
		runner: runner,
		router: chi.NewRouter(),
	}

	if len(cfg.Server.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(logger))
	s.router.Use(recoverer(logger))

	s.router.Post("/run", s.handleRun)
	s.router.Get("/healthz", s.handleHealth)
	if mcpHandler != nil {
		s.router.Handle("/mcp", mcpHandler)
	}

	readTimeout := time.Duration(cfg.Server.ReadTimeoutSec) * time.Second
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleRun answers every outcome with 200; failures are explained in output.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.logger.Warn("invalid run request body", zap.Error(err))
		writeJSON(s.logger, w, RunResponse{Output: sandbox.PrefixError + " invalid request body: " + err.Error()})
		return
	}

	if req.Code == "" {
		writeJSON(s.logger, w, RunResponse{Output: sandbox.PrefixError + " code is required"})
		return
	}

	resp := s.runner.Run(r.Context(), sandbox.Request{Code: req.Code, Language: req.Language})
	writeJSON(s.logger, w, RunResponse{Output: resp.Output, Language: resp.Language})
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
