// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/api/health"
	"github.com/good-yellow-bee/blazereport/internal/api/schedules"
	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string
	RateLimitPerUser int
	// RunTimeout bounds a manual run.
	RunTimeout      time.Duration
	ShutdownTimeout time.Duration
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerUser == 0 {
		c.RateLimitPerUser = 60
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config  *Config
	storage storage.Storage
	runner  schedules.Runner
	tokens  *auth.JWTService
	health  *health.Handler
	server  *http.Server
	logger  *zap.SugaredLogger
}

// New creates a new API server.
func New(cfg *Config, store storage.Storage, runner schedules.Runner, tokens *auth.JWTService, logger *zap.SugaredLogger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	cfg.SetDefaults()

	s := &Server{
		config:  cfg,
		storage: store,
		runner:  runner,
		tokens:  tokens,
		health:  health.NewHandler(),
		logger:  logging.OrNop(logger).With(logging.FieldComponent, "api"),
	}
	s.health.RegisterChecker(health.NewSQLiteChecker(store))

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Manual runs hold the response until the run finishes.
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http api listening", "address", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http api")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return errors.Wrap(err, "http api")
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a readiness checker.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.health.RegisterChecker(c)
}
