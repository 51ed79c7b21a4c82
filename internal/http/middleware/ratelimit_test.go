package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/esimkit/internal/config"
	"github.com/tendant/esimkit/pkg/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Requests: 2,
		Window:   time.Minute,
		Logger:   discardLogger(),
	})(okHandler())

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", api.PathVerifyCookie, nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != want {
			t.Errorf("request %d: got status %d, want %d", i+1, w.Code, want)
		}
		if w.Code == http.StatusTooManyRequests {
			var body api.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != api.CodeRateLimited {
				t.Errorf("error code = %q, want %q", body.Error, api.CodeRateLimited)
			}
		}
	}

	// A different client has its own budget.
	req := httptest.NewRequest("POST", api.PathVerifyCookie, nil)
	req.RemoteAddr = "192.168.1.2:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client: got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNoRateLimit(t *testing.T) {
	handler := NoRateLimit()(okHandler())

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestCreateRateLimiters_Disabled(t *testing.T) {
	limiters := CreateRateLimiters(config.RateLimitConfig{Enabled: false}, discardLogger())

	handler := limiters[LimitVerifyCookie](okHandler())
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("POST", "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestCreateRateLimiters_Enabled(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:              true,
		VerifyCookieRequests: 1,
		VerifyCookieWindow:   time.Minute,
		MFARequests:          5,
		MFAWindow:            time.Minute,
		DefaultRequests:      5,
		DefaultWindow:        time.Minute,
	}
	limiters := CreateRateLimiters(cfg, discardLogger())

	for _, name := range []string{LimitVerifyCookie, LimitMFA, LimitDefault} {
		if limiters[name] == nil {
			t.Errorf("%s limiter should not be nil", name)
		}
	}

	handler := limiters[LimitVerifyCookie](okHandler())
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/test", nil)
		req.RemoteAddr = "10.0.0.9:1"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("verify-cookie statuses = %v, want [200 429]", codes)
	}
}

func TestRateLimit_ClientKey(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       []int
	}{
		{"socket address ignores forwarded headers", false, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}},
		{"trusted proxy keys by forwarded address", true, []int{http.StatusOK, http.StatusOK, http.StatusOK}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RateLimit(RateLimitConfig{
				Requests:   1,
				Window:     time.Minute,
				TrustProxy: tt.trustProxy,
				Logger:     discardLogger(),
			})(okHandler())

			for i, want := range tt.want {
				req := httptest.NewRequest("POST", api.PathVerifyCookie, nil)
				req.RemoteAddr = "192.168.7.7:4000"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != want {
					t.Errorf("request %d: got status %d, want %d", i+1, w.Code, want)
				}
			}
		})
	}
}
