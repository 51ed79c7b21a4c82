package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Validation errors. These are raised before any network call.
var (
	ErrMissingCode           = errors.New("authorization code not found in callback")
	ErrMissingVerifier       = errors.New("no PKCE code verifier matches the callback state")
	ErrInvalidCodeFormat     = errors.New("verification code must be exactly 6 digits")
	ErrMissingRef            = errors.New("no MFA challenge reference; request a new code first")
	ErrMissingAccessToken    = errors.New("access token is missing; log in first")
	ErrMissingMFASignature   = errors.New("MFA signature is missing; complete verification first")
	ErrMissingMemberID       = errors.New("member id is missing; fetch member info first")
	ErrMissingSSN            = errors.New("eSIM SSN is missing; reserve or swap first")
	ErrMissingActivationCode = errors.New("activation code is missing")
	ErrMissingCookie         = errors.New("session cookie is missing")
	ErrMissingCredentials    = errors.New("either an access token or a cookie is required")
	ErrInvalidChannel        = errors.New("channel must be EMAIL or TEXT")
	ErrInvalidRequest        = errors.New("invalid request")
)

// Authentication and session errors.
var (
	ErrSessionExpired      = errors.New("session expired")
	ErrNeedReLogin         = errors.New("login required")
	ErrCookieExpired       = errors.New("session cookie expired")
	ErrInvalidAccessKey    = errors.New("invalid access key")
	ErrOriginNotAllowed    = errors.New("origin not allowed")
	ErrCaptchaFailed       = errors.New("captcha verification failed")
	ErrActivationAttempted = errors.New("automatic activation was already attempted for this code")
)

// ValidationError reports malformed input caught locally.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err.Error())
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps a sentinel validation error with the offending field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// AuthError covers missing or rejected credentials, bad access keys and
// disallowed origins.
type AuthError struct {
	Status      int
	NeedReLogin bool
	Err         error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx answer from the carrier.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Op, e.Status, e.Body)
}

// TimeoutError means a network call exceeded its budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("%s: timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TokenExpiredError is a 401 caused by an expired token or cookie. Unlike a
// plain UpstreamError it triggers the refresh-and-retry path.
type TokenExpiredError struct {
	Op     string
	Status int
	Body   string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s: credentials expired (status %d)", e.Op, e.Status)
}

func (e *TokenExpiredError) Unwrap() error { return ErrNeedReLogin }

// LpaTimeoutError is returned when polling for the profile download string
// ran out of time.
type LpaTimeoutError struct {
	SSN      string
	Attempts int
	Waited   time.Duration
	LastErr  error
}

func (e *LpaTimeoutError) Error() string {
	return fmt.Sprintf("eSIM profile for %s not ready after %d attempts (%s); try fetching it again in a few minutes",
		e.SSN, e.Attempts, e.Waited.Round(time.Second))
}

func (e *LpaTimeoutError) Unwrap() error { return e.LastErr }

// Action tells the user what to do about a failure.
type Action string

const (
	ActionRetry          Action = "retry"
	ActionReauthenticate Action = "reauthenticate"
	ActionWait           Action = "wait"
	ActionFixInput       Action = "fix_input"
)

// ActionFor classifies err into the user-facing action.
func ActionFor(err error) Action {
	var (
		validationErr *ValidationError
		authErr       *AuthError
		expiredErr    *TokenExpiredError
		timeoutErr    *TimeoutError
		lpaErr        *LpaTimeoutError
		upstreamErr   *UpstreamError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return ActionFixInput
	case errors.As(err, &expiredErr):
		return ActionReauthenticate
	case errors.As(err, &authErr):
		if authErr.Status == http.StatusForbidden && !authErr.NeedReLogin {
			return ActionFixInput
		}
		return ActionReauthenticate
	case errors.As(err, &lpaErr):
		return ActionWait
	case errors.As(err, &timeoutErr):
		return ActionRetry
	case errors.As(err, &upstreamErr):
		if upstreamErr.Status == http.StatusTooManyRequests || upstreamErr.Status >= 500 {
			return ActionWait
		}
		return ActionRetry
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNeedReLogin), errors.Is(err, ErrCookieExpired):
		return ActionReauthenticate
	}
	return ActionRetry
}
