package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantAction  domain.Action
		needReLogin bool
	}{
		{
			name:       "validation",
			err:        domain.NewValidationError("code", domain.ErrInvalidCodeFormat),
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeValidation,
			wantAction: domain.ActionFixInput,
		},
		{
			name:       "bad access key",
			err:        &domain.AuthError{Status: http.StatusUnauthorized, Err: domain.ErrInvalidAccessKey},
			wantStatus: http.StatusUnauthorized,
			wantCode:   api.CodeUnauthorized,
			wantAction: domain.ActionReauthenticate,
		},
		{
			name:       "origin not allowed",
			err:        &domain.AuthError{Status: http.StatusForbidden, Err: domain.ErrOriginNotAllowed},
			wantStatus: http.StatusForbidden,
			wantCode:   api.CodeForbidden,
			wantAction: domain.ActionFixInput,
		},
		{
			name:        "refresh failed",
			err:         fmt.Errorf("graphql: %w", &domain.AuthError{Status: http.StatusUnauthorized, NeedReLogin: true, Err: domain.ErrNeedReLogin}),
			wantStatus:  http.StatusUnauthorized,
			wantCode:    api.CodeTokenExpired,
			wantAction:  domain.ActionReauthenticate,
			needReLogin: true,
		},
		{
			name:        "token expired",
			err:         &domain.TokenExpiredError{Op: "graphql", Status: 401},
			wantStatus:  http.StatusUnauthorized,
			wantCode:    api.CodeTokenExpired,
			wantAction:  domain.ActionReauthenticate,
			needReLogin: true,
		},
		{
			name:       "lpa timeout",
			err:        &domain.LpaTimeoutError{SSN: "894400", Attempts: 29},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   api.CodeLpaTimeout,
			wantAction: domain.ActionWait,
		},
		{
			name:       "upstream timeout",
			err:        &domain.TimeoutError{Op: "mfa challenge"},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   api.CodeTimeout,
			wantAction: domain.ActionRetry,
		},
		{
			name:       "upstream 4xx passthrough",
			err:        &domain.UpstreamError{Op: "token exchange", Status: http.StatusBadRequest, Body: "invalid_grant"},
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeUpstream,
			wantAction: domain.ActionRetry,
		},
		{
			name:       "upstream 5xx",
			err:        &domain.UpstreamError{Op: "graphql", Status: http.StatusServiceUnavailable},
			wantStatus: http.StatusBadGateway,
			wantCode:   api.CodeUpstream,
			wantAction: domain.ActionWait,
		},
		{
			name:       "too large",
			err:        ErrRequestTooLarge,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   api.CodeTooLarge,
			wantAction: domain.ActionFixInput,
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   api.CodeInternal,
			wantAction: domain.ActionRetry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Classify(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body.Error != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error, tt.wantCode)
			}
			if body.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", body.Action, tt.wantAction)
			}
			if body.NeedReLogin != tt.needReLogin {
				t.Errorf("needReLogin = %v, want %v", body.NeedReLogin, tt.needReLogin)
			}
			if body.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestWriteError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, &domain.UpstreamError{Op: "graphql", Status: 404, Body: "not found"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.UpstreamStatus != 404 {
		t.Errorf("body = %+v", body)
	}
}

func TestDecode(t *testing.T) {
	var v struct{ Code string }

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"x"}`))
	if err := Decode(req, &v); err != nil || v.Code != "x" {
		t.Errorf("Decode = %v, %+v", err, v)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	var validationErr *domain.ValidationError
	if err := Decode(req, &v); !errors.As(err, &validationErr) {
		t.Errorf("Decode malformed = %v, want ValidationError", err)
	}

	w := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(bytes.Repeat([]byte("a"), 100)))
	req.Body = http.MaxBytesReader(w, req.Body, 10)
	if err := Decode(req, &v); !errors.Is(err, ErrRequestTooLarge) {
		t.Errorf("Decode oversized = %v, want ErrRequestTooLarge", err)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		want   string
	}{
		{"forwarded", "203.0.113.5, 10.0.0.1", "", "10.0.0.2:1234", "203.0.113.5"},
		{"real ip", "", "198.51.100.7", "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", "", "", "192.0.2.1:5555", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("line1\nline2\t\x00end"); got != "line1 line2 end" {
		t.Errorf("Sanitize = %q", got)
	}
	long := strings.Repeat("x", 1000)
	if got := Sanitize(long); len(got) != maxMessageLength+3 {
		t.Errorf("len(Sanitize(long)) = %d, want %d", len(got), maxMessageLength+3)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"two-byte rune across the cap", strings.Repeat("x", maxMessageLength-1) + "ééé", strings.Repeat("x", maxMessageLength-1) + "..."},
		{"four-byte rune across the cap", strings.Repeat("x", maxMessageLength-2) + "📶📶", strings.Repeat("x", maxMessageLength-2) + "..."},
		{"rune ending on the cap", strings.Repeat("x", maxMessageLength-2) + "éé", strings.Repeat("x", maxMessageLength-2) + "é..."},
		{"all multi-byte", strings.Repeat("ü", 400), strings.Repeat("ü", maxMessageLength/2) + "..."},
		{"invalid bytes", "bad\xffbyte", "bad\uFFFDbyte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if !utf8.ValidString(got) {
				t.Fatalf("Sanitize returned invalid UTF-8: %q", got)
			}
			if got != tt.want {
				t.Errorf("Sanitize = %q, want %q", got, tt.want)
			}
			if len(got) > maxMessageLength+3 {
				t.Errorf("len = %d, exceeds cap", len(got))
			}
		})
	}
}

func TestCredentialFallbacks(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	r.Header.Set(CarrierCookieHeader, "gg_session=h")

	if got := AccessToken(r, ""); got != "header-token" {
		t.Errorf("AccessToken = %q, want header-token", got)
	}
	if got := AccessToken(r, "body-token"); got != "body-token" {
		t.Errorf("AccessToken = %q, want body-token", got)
	}
	if got := CarrierCookie(r, ""); got != "gg_session=h" {
		t.Errorf("CarrierCookie = %q, want gg_session=h", got)
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(r); ok {
		t.Error("BearerToken accepted a Basic header")
	}
}
