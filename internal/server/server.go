// Package server wires handlers and middleware into the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/handlers"
	"github.com/mihaisavezi/cc-adapter/internal/middleware"
	"github.com/mihaisavezi/cc-adapter/internal/providers"
)

const (
	maxRequestBody  = 32 << 20
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	config   *config.Config
	registry *providers.Registry
	logger   *slog.Logger
	server   *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) *Server {
	registry := providers.NewRegistry()
	registry.Initialize(*cfg, providers.NewHTTPClient(*cfg), logger)

	return &Server{
		config:   cfg,
		registry: registry,
		logger:   logger,
	}
}

// Start listens on the configured address and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. In-flight streams see their request context cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	s.logger.InfoContext(ctx, "Starting server",
		"address", ln.Addr().String(),
		"default_model", s.config.Model,
		"providers", s.registry.List(),
	)

	g.Go(func() error {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("Server exited")
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	messagesHandler := handlers.NewMessagesHandler(s.config, s.registry, s.logger)
	countHandler := handlers.NewCountTokensHandler(s.logger)
	modelsHandler := handlers.NewModelsHandler(s.config, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.logger, maxRequestBody)
	api := middlewareSet.DefaultChain()

	mux.Handle("GET /health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("POST /v1/messages", api.Handler(messagesHandler))
	mux.Handle("GET /v1/messages/count_tokens", api.Handler(countHandler))
	mux.Handle("POST /v1/messages/count_tokens", api.Handler(countHandler))
	mux.Handle("GET /v1/models", api.Handler(modelsHandler))
	mux.Handle("/", api.Handler(handlers.NotFound(s.logger)))

	return mux
}
