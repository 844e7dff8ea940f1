package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/almanakh/identity/internal/auth"
	"github.com/almanakh/identity/internal/service"
	"github.com/almanakh/identity/pkg/health"
	"github.com/almanakh/identity/pkg/middleware"
)

// NewRouter creates a chi router with all identity routes registered.
func NewRouter(
	authService *service.AuthService,
	twoFactorService *service.TwoFactorService,
	verificationService *service.VerificationService,
	jwtManager *auth.JWTManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("identity"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Token validator bridging to the internal JWTManager. The permission
	// snapshot rides along so RequirePermission can gate routes without a
	// store round trip.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:      claims.UserID,
			Email:       claims.Email,
			Role:        claims.Role,
			Permissions: claims.Permissions,
		}, nil
	}

	// Authenticated routes re-run RequestLogger after Auth so the
	// request-scoped logger picks up the user id.
	authenticated := func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequestLogger(logger))
	}

	authHandler := NewAuthHandler(authService, logger)
	twoFactorHandler := NewTwoFactorHandler(twoFactorService, logger)
	verificationHandler := NewVerificationHandler(verificationService, logger)
	userHandler := NewUserHandler(authService, logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/login/2fa", authHandler.TwoFactorLogin)
		r.Post("/refresh", authHandler.Refresh)

		// Authenticated
		r.Group(func(r chi.Router) {
			authenticated(r)

			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/change-password", authHandler.ChangePassword)
		})
	})

	r.Route("/api/v1/2fa", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		authenticated(r)

		r.Post("/enroll", twoFactorHandler.Enroll)
		r.Post("/confirm", twoFactorHandler.Confirm)
		r.Post("/verify", twoFactorHandler.Verify)
		r.Post("/disable", twoFactorHandler.Disable)
	})

	r.Route("/api/v1/verification", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Redeem is public: the link lands in a mail client, not a session.
		r.Post("/redeem", verificationHandler.Redeem)

		r.Group(func(r chi.Router) {
			authenticated(r)

			r.Post("/request", verificationHandler.Request)
		})
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		authenticated(r)

		r.Get("/me", userHandler.GetProfile)
	})

	return r
}
