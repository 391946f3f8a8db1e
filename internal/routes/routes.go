package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/handlers"
	"github.com/BradenHooton/collegeerp/internal/middleware"
	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
)

// Config carries what the route table needs beyond the handlers
type Config struct {
	TokenManager *auth.TokenManager
	Revocations  auth.TokenRevocationChecker
	Gatherer     prometheus.Gatherer
	IPConfig     *pkghttp.IPConfig

	AuthRequestsPerMinute int
	OTPRequestsPerMinute  int
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler, healthHandler *handlers.HealthHandler, cfg Config) {
	authLimit := middleware.DefaultAuthRateLimit()
	if cfg.AuthRequestsPerMinute > 0 {
		authLimit.RequestsPerMinute = cfg.AuthRequestsPerMinute
	}
	authLimit.IPConfig = cfg.IPConfig

	otpLimit := middleware.DefaultOTPRateLimit()
	if cfg.OTPRequestsPerMinute > 0 {
		otpLimit.RequestsPerMinute = cfg.OTPRequestsPerMinute
	}
	otpLimit.IPConfig = cfg.IPConfig

	router.Get("/health", healthHandler.Health)
	if cfg.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/auth", func(r chi.Router) {
		// Password and token endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(authLimit))
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.RefreshToken)
		})

		// Endpoints that send or check an OTP
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(otpLimit))
			r.Post("/otp/send", authHandler.SendOTP)
			r.Post("/otp/verify", authHandler.VerifyOTP)
			r.Post("/password/forgot", authHandler.ForgotPassword)
			r.Post("/password/verify-otp", authHandler.VerifyResetOTP)
			r.Post("/password/reset", authHandler.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(cfg.TokenManager, cfg.Revocations))
			r.Post("/logout", authHandler.Logout)
		})
	})
}
