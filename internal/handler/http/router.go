package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haitnmt/Haihv.Identities/pkg/health"
	"github.com/haitnmt/Haihv.Identities/pkg/middleware"
)

// NewRouter creates a chi router with all gateway routes registered.
func NewRouter(
	authService AuthService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig CORSConfig,
	cookieConfig CookieConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("identity-gateway"))
	r.Use(middleware.Tracing("identity-gateway"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(authService, cookieConfig, logger)

	// Public endpoints
	r.Group(func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/api/login", authHandler.Login)
		r.Post("/api/refreshToken", authHandler.Refresh)
	})

	// Logout stays outside the auth gate: a caller whose access token
	// already expired must still be able to revoke a live refresh token.
	r.Post("/api/logout", authHandler.Logout)

	// Token validator bridging to the orchestrator's dual check.
	tokenValidator := func(ctx context.Context, tokenString string) (*middleware.Claims, error) {
		claims, err := authService.Verify(ctx, tokenString)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			AccountName:       claims.SamAccountName,
			DistinguishedName: claims.DistinguishedName,
			UserPrincipalName: claims.UserPrincipalName,
			DisplayName:       claims.DisplayName,
			Email:             claims.Email,
		}, nil
	}

	// Authenticated endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/api/verify", authHandler.Verify)
		r.Get("/api/ldapGroup/check", authHandler.CheckGroup)
	})

	return r
}
