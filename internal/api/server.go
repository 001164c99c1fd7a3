package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Server runs the HTTP API with graceful shutdown.
type Server struct {
	log  *slog.Logger
	http *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger   *slog.Logger
	Handlers *Handlers
	Port     int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Handlers == nil {
		return nil, errors.New("handlers cannot be nil")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("port must be positive")
	}

	return &Server{
		log: cfg.Logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg.Handlers),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run serves until the context is canceled, then drains in-flight
// requests within shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.log.Info("api server stopped")
	return nil
}
