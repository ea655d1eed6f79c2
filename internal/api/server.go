// Package api exposes the monitor over HTTP: a small REST surface for the
// catalog, subscriptions, and the event collection, plus a websocket live
// feed pushing normalized events and toast notices as they happen.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"streamwatch/internal/monitor"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr string     `yaml:"addr"`
	Auth AuthConfig `yaml:"auth"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		Auth:         DefaultAuthConfig(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Unset: the live feed holds its connection open.
		IdleTimeout:  120 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	c.Auth.ApplyDefaults()
}

// Server ties the handler, hub, and http.Server together.
type Server struct {
	cfg     Config
	hub     *Hub
	handler *Handler
	http    *http.Server
	logger  *slog.Logger

	cancelHub context.CancelFunc
}

// NewServer builds the API server around a monitor service.
func NewServer(cfg Config, svc *monitor.Service, logger *slog.Logger) (*Server, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth setup: %w", err)
	}

	hub := NewHub()
	handler := NewHandler(svc, auth, hub, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &Server{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		logger:  logger,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}, nil
}

// Hub returns the live-feed hub, for wiring observers.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and the HTTP listener. It blocks until the listener
// stops; http.ErrServerClosed is swallowed as the normal shutdown path.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel
	go s.hub.Run(ctx)

	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains the HTTP listener and stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.cancelHub != nil {
		s.cancelHub()
	}
	return err
}
