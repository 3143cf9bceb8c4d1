package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/tokenlink/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	IPConfig *pkghttp.IPConfig
}

// IssueRateLimit bounds how many login tokens one client address may request
func IssueRateLimit(perMinute int, ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{Requests: perMinute, Window: time.Minute, IPConfig: ipConfig}
}

// DefaultAuthRateLimit returns the limit for password and refresh endpoints
// (5 requests per minute). The lockout governor still applies per account.
func DefaultAuthRateLimit(ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{Requests: 5, Window: time.Minute, IPConfig: ipConfig}
}

// RateLimitByIP limits requests per client address. The address is taken the
// same way handlers take it, so X-Forwarded-For only counts behind a trusted
// proxy.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	window := config.Window
	if window <= 0 {
		window = time.Minute
	}
	retryAfter := strconv.Itoa(int(window / time.Second))

	return httprate.Limit(
		config.Requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}
