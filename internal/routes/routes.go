package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/tokenlink/internal/auth"
	"github.com/BradenHooton/tokenlink/internal/handlers"
	middlewareCustom "github.com/BradenHooton/tokenlink/internal/middleware"
	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
)

// Handlers groups everything the router serves
type Handlers struct {
	Auth        *handlers.AuthHandler
	LoginTokens *handlers.LoginTokenHandler
	Events      *handlers.LoginTokenEventsHandler
	Health      http.HandlerFunc
}

// Options tunes the routes
type Options struct {
	TokenManager   *auth.TokenManager
	IPConfig       *pkghttp.IPConfig
	IssuePerMinute int
	RequestTimeout time.Duration
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, opts Options) {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	authLimit := middlewareCustom.RateLimitByIP(middlewareCustom.DefaultAuthRateLimit(opts.IPConfig))
	issueLimit := middlewareCustom.RateLimitByIP(middlewareCustom.IssueRateLimit(opts.IssuePerMinute, opts.IPConfig))

	// Event streams live as long as the token and must not be cut off by
	// the request timeout.
	router.Get("/login-tokens/{id}/events", h.Events.Stream)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		if h.Health != nil {
			r.Get("/health", h.Health)
		}

		// Public routes - possession of the token id is the credential
		r.With(issueLimit).Post("/login-tokens", h.LoginTokens.Issue)
		r.Get("/login-tokens/{id}", h.LoginTokens.Status)
		r.Delete("/login-tokens/{id}", h.LoginTokens.Cancel)
		r.Get("/login-tokens/{id}/qr.png", h.LoginTokens.QRCode)
		r.With(authLimit).Get("/login-tokens/{id}/redeem", h.LoginTokens.Redeem)
		r.With(authLimit).Post("/login-tokens/{id}/redeem", h.LoginTokens.Redeem)

		r.With(authLimit).Post("/auth/login", h.Auth.Login)
		r.With(authLimit).Post("/auth/refresh", h.Auth.Refresh)

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(opts.TokenManager))

			r.Post("/login-tokens/{id}/confirm", h.LoginTokens.Confirm)
			r.Get("/auth/me", h.Auth.Me)
		})
	})
}
