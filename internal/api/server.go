package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/contental/keyserver/internal/api/handler"
	mw "github.com/contental/keyserver/internal/api/middleware"
	"github.com/contental/keyserver/internal/config"
	"github.com/contental/keyserver/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, cfg *config.Config) *Server {
	services := core.NewServices(pool, cfg.JWTSecret, cfg.JWTIssuer)

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-HWID"},
	}))
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Public validation: authenticated by possession of the token,
		// rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.ValidateRateLimit, time.Minute))
			validate := handler.NewValidate(s.services.Validation)
			r.Post("/validate", validate.Validate)
		})

		// Owner login
		auth := handler.NewAuth(s.services.Owner, s.services.Auth)
		r.Post("/auth/login", auth.Login)

		// Owner-authenticated administration
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.services.Auth))

			r.Get("/auth/me", auth.Me)

			key := handler.NewKey(s.services.Key, core.IssueDefaults{
				FormatPrefix: s.cfg.DefaultFormatPrefix,
				ExpiryDays:   s.cfg.DefaultExpiryDays,
				MaxUses:      s.cfg.DefaultMaxUses,
			})
			r.Post("/keys", key.Issue)
			r.Get("/keys", key.List)
			r.Patch("/keys/{id}", key.Update)
			r.Patch("/keys/{id}/ban", key.Ban)
			r.Patch("/keys/{id}/reset", key.Reset)
			r.Delete("/keys/{id}", key.Delete)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
