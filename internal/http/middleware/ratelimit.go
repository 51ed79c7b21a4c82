package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/esimkit/internal/config"
	"github.com/tendant/esimkit/internal/httputil"
)

// Limiter names returned by CreateRateLimiters.
const (
	LimitVerifyCookie = "verify-cookie"
	LimitMFA          = "mfa"
	LimitDefault      = "default"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// TrustProxy keys clients by True-Client-IP, X-Real-IP or
	// X-Forwarded-For. Only set it behind a proxy that overwrites them.
	TrustProxy bool
	Logger     *slog.Logger
}

// RateLimit creates an IP-based sliding window limiter with logging.
// Clients are keyed by the socket address unless TrustProxy is set.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := httprate.KeyByIP
	if cfg.TrustProxy {
		keyFunc = httprate.KeyByRealIP
	}
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				ip, _ := keyFunc(r)
				cfg.Logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "too many requests, wait a minute and try again")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimitVerifyCookie: noOp,
			LimitMFA:          noOp,
			LimitDefault:      noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		LimitVerifyCookie: RateLimit(RateLimitConfig{
			Requests:   cfg.VerifyCookieRequests,
			Window:     cfg.VerifyCookieWindow,
			TrustProxy: cfg.TrustProxy,
			Logger:     logger,
		}),
		LimitMFA: RateLimit(RateLimitConfig{
			Requests:   cfg.MFARequests,
			Window:     cfg.MFAWindow,
			TrustProxy: cfg.TrustProxy,
			Logger:     logger,
		}),
		LimitDefault: RateLimit(RateLimitConfig{
			Requests:   cfg.DefaultRequests,
			Window:     cfg.DefaultWindow,
			TrustProxy: cfg.TrustProxy,
			Logger:     logger,
		}),
	}
}
