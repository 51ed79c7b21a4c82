package middleware

import (
	"fmt"
	"net/http"

	"github.com/tendant/esimkit/internal/config"
)

// SecurityHeaders sets the configured response security headers. The BFF
// serves JSON only, so the defaults forbid every content source.
func SecurityHeaders(cfg config.SecurityHeadersConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	headers := http.Header{}
	set := func(k, v string) {
		if v != "" {
			headers.Set(k, v)
		}
	}
	set("Content-Security-Policy", cfg.CSP)
	if cfg.HSTSMaxAge > 0 {
		headers.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
	}
	set("X-Frame-Options", cfg.FrameOptions)
	set("X-Content-Type-Options", cfg.ContentTypeOptions)
	set("X-XSS-Protection", cfg.XSSProtection)
	set("Referrer-Policy", cfg.ReferrerPolicy)
	set("Permissions-Policy", cfg.PermissionsPolicy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header()[k] = v
			}
			next.ServeHTTP(w, r)
		})
	}
}
