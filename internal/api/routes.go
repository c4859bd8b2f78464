package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vanish.share/config"
	"vanish.share/internal/engine"
	"vanish.share/internal/policy"
)

func SetupRouter(e *engine.Engine, p *policy.Cache, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	h := NewHandler(e, p, cfg)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(Metrics)

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: []string{"127.0.0.1"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID", "X-Secret-Password", "Authorization"},
		MaxAge:         86400,
	}))

	// Health and metrics
	r.Get("/healthz", h.Health)
	r.Method("GET", "/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(JSONOnly)

		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			revealLimiter := NewRateLimiter(cfg.RateLimit.RevealPerMin, time.Minute)

			r.Use(apiLimiter.Middleware)

			r.Route("/secrets", func(r chi.Router) {
				r.Post("/", h.CreateSecret)
				r.With(revealLimiter.Middleware).Get("/{id}", h.ViewSecret)
				r.Get("/{id}/status", h.GetStatus)
			})
		} else {
			r.Route("/secrets", func(r chi.Router) {
				r.Post("/", h.CreateSecret)
				r.Get("/{id}", h.ViewSecret)
				r.Get("/{id}/status", h.GetStatus)
			})
		}

		r.Post("/signup/check", h.SignupCheck)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(cfg.Admin.JWTSecret))
			r.Get("/policy", h.GetPolicy)
			r.Put("/policy", h.UpdatePolicy)
		})
	})

	// Frontend
	r.Get("/", h.Index)
	r.Get("/s/{id}", h.RevealPage)

	return r
}
