// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi serves the tool manager's status and call surface over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	tblog "github.com/tombee/toolbridge/internal/log"
	"github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/toolmetrics"
)

const defaultShutdownTimeout = 10 * time.Second

// HistoryReader serves persisted call records.
type HistoryReader interface {
	Query(ctx context.Context, q toolmetrics.HistoryQuery) ([]toolmetrics.CallRecord, error)
}

// Config configures the HTTP API.
type Config struct {
	// Addr is the listen address (e.g. "127.0.0.1:8750")
	Addr string

	// Provider supplies the managed tools
	Provider mcp.ToolProvider

	// Gatherer backs /metrics (optional, defaults to the default registry)
	Gatherer prometheus.Gatherer

	// History backs /v1/history (optional)
	History HistoryReader

	// Auth protects /v1 when set (optional)
	Auth *AuthConfig

	// CORSOrigins enables CORS for the listed origins (optional)
	CORSOrigins []string

	// ShutdownTimeout bounds graceful shutdown (default: 10s)
	ShutdownTimeout time.Duration

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Server is the HTTP status API.
type Server struct {
	provider mcp.ToolProvider
	history  HistoryReader
	handler  http.Handler
	addr     string
	shutdown time.Duration
	logger   *slog.Logger
}

// New creates the API server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("tool provider is required")
	}
	if cfg.Auth != nil {
		if err := cfg.Auth.validate(); err != nil {
			return nil, fmt.Errorf("invalid auth config: %w", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}

	s := &Server{
		provider: cfg.Provider,
		history:  cfg.History,
		addr:     cfg.Addr,
		shutdown: shutdown,
		logger:   tblog.WithComponent(logger, "httpapi"),
	}

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(propagateRequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(tblog.HTTPMiddleware(s.logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleLiveness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(requireToken(*cfg.Auth))
		}
		r.Get("/tools", s.handleListTools)
		r.Get("/tools/{id}", s.handleGetTool)
		r.Get("/tools/{id}/capabilities", s.handleCapabilities)
		r.Post("/tools/{id}/call", s.handleCall)
		r.Get("/health", s.handleHealth)
		r.Get("/report", s.handleReport)
		r.Get("/history", s.handleHistory)
	})

	s.handler = r
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		s.logger.Info("shutting down API server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// propagateRequestID copies chi's request id into the header read by the
// logging middleware and echoes it to the client.
func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r.Header.Set(tblog.RequestIDHeader, id)
			w.Header().Set(tblog.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}
