package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

// AccessKey requires the shared access key in the X-Esim-Key or X-App-Key
// header, or in the JSON body's authKey field. An empty key rejects every
// request unless allowOpen is set.
func AccessKey(key string, allowOpen bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == "" {
		if allowOpen {
			logger.Warn("ACCESS_KEY is not set and open access is allowed, BFF endpoints are open")
			return func(next http.Handler) http.Handler { return next }
		}
		logger.Error("ACCESS_KEY is not set, BFF endpoints will reject every request")
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httputil.WriteError(w, logger, &domain.AuthError{Status: http.StatusUnauthorized, Err: domain.ErrInvalidAccessKey})
			})
		}
	}
	want := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(api.HeaderAccessKey)
			if got == "" {
				got = r.Header.Get(api.HeaderAppKey)
			}
			if got == "" && r.Body != nil {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					httputil.WriteError(w, logger, httputil.ErrRequestTooLarge)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				got = authKeyFromBody(body)
			}

			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn("access key rejected", "ip", httputil.ClientIP(r), "path", r.URL.Path, "present", got != "")
				httputil.WriteError(w, logger, &domain.AuthError{Status: http.StatusUnauthorized, Err: domain.ErrInvalidAccessKey})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authKeyFromBody reads authKey from an object or a one-element array body.
func authKeyFromBody(body []byte) string {
	var obj api.AuthKeyField
	if err := json.Unmarshal(body, &obj); err == nil {
		return obj.AuthKey
	}
	var batch []api.AuthKeyField
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return batch[0].AuthKey
	}
	return ""
}
