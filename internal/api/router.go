package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazereport/internal/api/middleware"
	"github.com/good-yellow-bee/blazereport/internal/api/schedules"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	userLimiter := middleware.NewRateLimiter(s.config.RateLimitPerUser)

	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.PrometheusMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, ErrMethodNotAllowed)
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.health.Health)
	r.Get("/health/live", s.health.Live)
	r.Get("/health/ready", s.health.Ready)

	scheduleHandler := schedules.NewHandler(
		s.storage.Schedules(),
		s.storage.ExecutionLogs(),
		s.runner,
		s.config.RunTimeout,
		s.logger,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(s.tokens, s.logger))
		r.Use(middleware.RateLimitByUser(userLimiter))

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", scheduleHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", scheduleHandler.Get)
				r.Get("/logs", scheduleHandler.Logs)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCanWrite)
					r.Post("/run", scheduleHandler.Run)
				})
			})
		})
		r.Get("/executions/{id}", scheduleHandler.Execution)
	})

	return r
}
