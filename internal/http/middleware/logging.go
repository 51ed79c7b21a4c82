package middleware

import (
	"log/slog"
	"net/http"

	"github.com/flashbots/go-utils/httplogger"
)

// Logging writes one structured access log line per request.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(logger, next)
	}
}
