// Package server owns HTTP server initialization and lifecycle.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/api"
	"github.com/sibylhq/sibyl/internal/infra/config"
)

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the default HTTP server configuration. WriteTimeout
// is generous because chat responses stream for the life of a run.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server wraps the HTTP server, database, and background workers.
type Server struct {
	config Config
	db     *sql.DB
	http   *http.Server
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewServer builds the router and HTTP server. Background workers started by
// the router run until Shutdown.
func NewServer(db *sql.DB, serverCfg Config, appCfg config.Config, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	router, err := api.NewRouter(ctx, db, appCfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:      router,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  serverCfg.IdleTimeout,
	}

	return &Server{
		config: serverCfg,
		db:     db,
		http:   httpServer,
		logger: logger,
		cancel: cancel,
	}, nil
}

// Addr returns the address the server will listen on.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains connections, stops background workers, and
// closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.cancel()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("database close error: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}
