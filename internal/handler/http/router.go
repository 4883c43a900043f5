package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authgate/internal/ratelimit"
	"github.com/utafrali/authgate/internal/service"
	"github.com/utafrali/authgate/pkg/health"
	"github.com/utafrali/authgate/pkg/middleware"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string

	// Limiter guards the credential endpoints. LimitMessage is the body
	// of its 429 responses. TrustedProxies are the peers allowed to name
	// the client through forwarding headers.
	Limiter        ratelimit.Limiter
	LimitMessage   string
	TrustedProxies ratelimit.TrustedProxies
}

// NewRouter creates a chi router with all auth routes registered.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.Tracing(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(authService, logger)

	// Credential endpoints, throttled per client
	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(ratelimit.Middleware(cfg.Limiter, cfg.LimitMessage, cfg.TrustedProxies, logger))
		}

		r.Post("/register", authHandler.Register)
		r.Post("/verify-registration", authHandler.VerifyRegistration)
		r.Post("/login", authHandler.Login)
		r.Post("/request-reset-password", authHandler.RequestPasswordReset)
		r.Post("/reset-password/{token}", authHandler.ResetPassword)
	})

	r.Get("/protected", authHandler.Protected)

	return r
}
