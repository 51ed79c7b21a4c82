package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

var corsAllowedHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	api.HeaderAccessKey,
	api.HeaderAppKey,
	httputil.CarrierCookieHeader,
}, ", ")

var errOrigin = &domain.AuthError{Status: http.StatusForbidden, Err: domain.ErrOriginNotAllowed}

// CORS checks the Origin header against the single allowed origin.
// Preflights are always answered here: 204 when allowed, 403 otherwise.
// Cross-origin requests from any other origin are refused; requests
// without an Origin header are not browser cross-origin calls and pass.
func CORS(allowedOrigin string, logger *slog.Logger) func(http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && strings.EqualFold(strings.TrimRight(origin, "/"), allowedOrigin)

			w.Header().Add("Vary", "Origin")
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", api.HeaderAccessToken)
			}

			if r.Method == http.MethodOptions {
				if !allowed {
					logger.Warn("cors preflight rejected", "origin", origin, "path", r.URL.Path)
					httputil.WriteError(w, logger, errOrigin)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if origin != "" && !allowed {
				logger.Warn("cross-origin request rejected", "origin", origin, "path", r.URL.Path)
				httputil.WriteError(w, logger, errOrigin)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
