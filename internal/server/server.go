// Package server exposes the pipeline's debug surface: a status endpoint
// and a live websocket event feed. It is an observability surface of the
// pipeline, not a transport.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusFunc returns the counters rendered by GET /debug/status.
type StatusFunc func() any

// Server serves the debug endpoints.
type Server struct {
	Router *chi.Mux
	Port   int

	logger *slog.Logger
	status StatusFunc
	srv    *http.Server
}

// New builds the debug server. feed may be nil to disable the live stream.
func New(port int, logger *slog.Logger, status StatusFunc, feed *Feed) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "llmtap-debug")
	})

	s := &Server{
		Router: r,
		Port:   port,
		logger: logger,
		status: status,
	}

	r.Get("/debug/status", s.handleStatus)
	if feed != nil {
		r.Get("/debug/stream", feed.handleStream)
	}

	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var body any = map[string]any{}
	if s.status != nil {
		body = s.status()
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode status", slog.String("error", err.Error()))
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	go func() {
		s.logger.Info("debug server listening", slog.Int("port", s.Port))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("debug server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
