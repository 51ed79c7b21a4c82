package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestActionFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Action
	}{
		{"nil", nil, ""},
		{"bad code", NewValidationError("code", ErrInvalidCodeFormat), ActionFixInput},
		{"wrapped validation", fmt.Errorf("swap: %w", NewValidationError("ref", ErrMissingRef)), ActionFixInput},
		{"expired token", &TokenExpiredError{Op: "graphql", Status: 401}, ActionReauthenticate},
		{"need relogin", &AuthError{Status: 401, NeedReLogin: true, Err: ErrNeedReLogin}, ActionReauthenticate},
		{"bad access key", &AuthError{Status: 401, Err: ErrInvalidAccessKey}, ActionReauthenticate},
		{"origin refused", &AuthError{Status: 403, Err: ErrOriginNotAllowed}, ActionFixInput},
		{"lpa timeout", &LpaTimeoutError{SSN: "8944", Attempts: 30}, ActionWait},
		{"lpa timeout wrapping a timeout", &LpaTimeoutError{LastErr: &TimeoutError{Op: "download"}}, ActionWait},
		{"network timeout", &TimeoutError{Op: "graphql", Timeout: 20 * time.Second}, ActionRetry},
		{"rate limited upstream", &UpstreamError{Op: "graphql", Status: 429}, ActionWait},
		{"upstream 502", &UpstreamError{Op: "graphql", Status: 502}, ActionWait},
		{"upstream 400", &UpstreamError{Op: "graphql", Status: 400}, ActionRetry},
		{"session expired", fmt.Errorf("load: %w", ErrSessionExpired), ActionReauthenticate},
		{"cookie expired", ErrCookieExpired, ActionReauthenticate},
		{"plain error", errors.New("connection reset"), ActionRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ActionFor(tt.err); got != tt.want {
				t.Errorf("ActionFor(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestTokenExpiredError_IsNeedReLogin(t *testing.T) {
	err := fmt.Errorf("member profile: %w", &TokenExpiredError{Op: "graphql", Status: 401})
	if !errors.Is(err, ErrNeedReLogin) {
		t.Error("TokenExpiredError should match ErrNeedReLogin")
	}
}

func TestTimeoutError_Unwrap(t *testing.T) {
	err := &TimeoutError{Op: "verify cookie", Timeout: 5 * time.Second, Err: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("TimeoutError should unwrap to its cause")
	}
	if want := "verify cookie: timed out after 5s"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAuthError_Message(t *testing.T) {
	if got := (&AuthError{Status: http.StatusForbidden}).Error(); got != "Forbidden" {
		t.Errorf("Error() = %q, want %q", got, "Forbidden")
	}
	if got := (&AuthError{Status: 401, Err: ErrInvalidAccessKey}).Error(); got != "invalid access key" {
		t.Errorf("Error() = %q, want %q", got, "invalid access key")
	}
}

func TestLpaTimeoutError_Message(t *testing.T) {
	err := &LpaTimeoutError{SSN: "89441100000000000002", Attempts: 30, Waited: 121400 * time.Millisecond}
	want := "eSIM profile for 89441100000000000002 not ready after 30 attempts (2m1s); try fetching it again in a few minutes"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
