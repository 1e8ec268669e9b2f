package lifecycle

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	// Описание API для /docs.
	_ "github.com/magabrotheeeer/trial-lifecycle/docs"
	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
	"github.com/magabrotheeeer/trial-lifecycle/internal/http/handlers/access"
	"github.com/magabrotheeeer/trial-lifecycle/internal/http/handlers/cleanup"
	"github.com/magabrotheeeer/trial-lifecycle/internal/http/handlers/health"
	"github.com/magabrotheeeer/trial-lifecycle/internal/http/handlers/signup"
	"github.com/magabrotheeeer/trial-lifecycle/internal/http/handlers/stripewebhook"
	"github.com/magabrotheeeer/trial-lifecycle/internal/http/middlewarectx"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/jwt"
)

// CleanupScope — область служебного токена для запуска очистки.
const CleanupScope = "cleanup"

// Services содержит сервисы, которые обслуживают HTTP-маршруты.
type Services struct {
	Health       health.Pinger
	Cleanup      cleanup.Service
	Signup       signup.Service
	Access       access.Service
	Synchronizer stripewebhook.Synchronizer
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, svc Services) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	// Пустой секрет отключает проверку токена.
	var verifier middlewarectx.Verifier
	if cfg.Cleanup.JWTSecret != "" {
		verifier = jwt.NewMaker(cfg.Cleanup.JWTSecret)
	}

	r.Get("/health", health.New(logger, svc.Health).ServeHTTP)
	r.With(middlewarectx.ServiceAuth(verifier, CleanupScope, logger)).
		Handle("/cleanup", cleanup.New(logger, svc.Cleanup))

	r.Route("/api/v1", func(r chi.Router) {
		limiter := rate.NewLimiter(rate.Limit(cfg.SignupRPS), cfg.SignupBurst)
		r.With(middlewarectx.RateLimit(limiter, logger)).
			Post("/trials", signup.New(logger, svc.Signup).ServeHTTP)
		r.Get("/access/{user_id}", access.New(logger, svc.Access).ServeHTTP)
		r.Post("/webhooks/stripe", stripewebhook.New(logger, svc.Synchronizer, cfg.Stripe.WebhookSecret).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
