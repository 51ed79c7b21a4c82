package middleware

import (
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
)

// RequestSizeLimit caps request bodies at maxBytes. Requests that declare a
// larger Content-Length are refused before the handler runs; others fail
// while decoding.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				httputil.WriteError(w, nil, httputil.ErrRequestTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
