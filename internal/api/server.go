package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/togetherhq/identity/internal/api/handler"
	mw "github.com/togetherhq/identity/internal/api/middleware"
	"github.com/togetherhq/identity/internal/config"
	"github.com/togetherhq/identity/internal/core"
	"github.com/togetherhq/identity/internal/mail"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, sender mail.Sender, cfg *config.Config) *Server {
	services := core.NewServices(pool, sender, []byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.BaseURL)

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

// Services exposes the wired domain services, used by main for seeding.
func (s *Server) Services() *core.Services {
	return s.services
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(mw.Metrics)
	s.router.Use(mw.CORS(s.cfg.CORSOrigins))
}

func (s *Server) setupRoutes() {
	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler())

	// Health checks
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	sessionAuth := mw.SessionAuth(s.services.Session, s.services.User, s.cfg.CookieName)
	loginLimiter := mw.NewRateLimiter(10, 5)

	auth := handler.NewAuth(s.services, s.cfg.CookieName, !s.cfg.DevMode)
	session := handler.NewSession(s.services.Session)
	me := handler.NewMe(s.services.User)
	password := handler.NewPassword(s.services.Verification)
	verify := handler.NewVerify(s.services.Verification, s.services.Session, auth)
	oauth := handler.NewOAuth(s.services.OAuth)
	admin := handler.NewAdmin(s.services.OAuth, s.services.User)
	wellKnown := handler.NewWellKnown(s.cfg.JWTIssuer, s.cfg.BaseURL)

	s.router.Route("/api", func(r chi.Router) {
		// Credential endpoints, rate limited per IP
		r.Group(func(r chi.Router) {
			r.Use(loginLimiter.Middleware)
			r.Post("/auth/signup", auth.Signup)
			r.Post("/auth/login", auth.Login)
			r.Post("/password/forgot", password.Forgot)
			r.Post("/password/reset", password.Reset)
		})

		r.Post("/auth/logout", auth.Logout)
		r.Post("/verify-email/confirm", verify.Confirm)

		// Session-authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(sessionAuth)

			r.Get("/session", session.Current)
			r.Get("/sessions", session.List)
			r.Delete("/sessions/{id}", session.Revoke)
			r.Post("/sessions/revoke-others", session.RevokeOthers)

			r.Get("/me", me.Get)
			r.Patch("/me", me.Update)
			r.Put("/me/username", me.SetUsername)

			r.Post("/verify-email/send", verify.Send)
		})
	})

	s.router.Route("/oauth2", func(r chi.Router) {
		r.With(sessionAuth).Get("/authorize", oauth.Authorize)
		r.With(sessionAuth).Post("/consent", oauth.Consent)
		r.Post("/token", oauth.Token)
		r.Get("/userinfo", oauth.UserInfo)
		r.Post("/revoke", oauth.Revoke)
	})

	s.router.Get("/.well-known/openid-configuration", wellKnown.OpenIDConfiguration)

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(mw.AdminKey(s.cfg.AdminAPIKey))

		r.Post("/clients", admin.RegisterClient)
		r.Post("/clients/seed", admin.SeedClient)
		r.Put("/users/{id}/roles", admin.SetRoles)
		r.Put("/users/{id}/app-roles", admin.SetAppRoles)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
