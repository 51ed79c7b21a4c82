package carrier

import (
	"context"
	"errors"
	"net/http"

	"github.com/tendant/esimkit/pkg/domain"
)

// Refresher derives a fresh access token from a session cookie.
type Refresher interface {
	RefreshToken(ctx context.Context, cookie string) (string, error)
}

// CallWithRefresh runs call with token. If the upstream says the token has
// expired and a cookie is available, it derives a new token from the cookie
// and runs call exactly once more. It returns the token that was finally
// used so callers can hand a refreshed token back to the client.
//
// A failed refresh or a second expiry yields an AuthError with NeedReLogin.
func CallWithRefresh[T any](ctx context.Context, r Refresher, token, cookie string, call func(ctx context.Context, token string) (T, error)) (T, string, error) {
	var zero T

	if token == "" {
		if cookie == "" {
			return zero, "", domain.NewValidationError("accessToken", domain.ErrMissingCredentials)
		}
		fresh, err := r.RefreshToken(ctx, cookie)
		if err != nil {
			return zero, "", needReLogin(err)
		}
		token = fresh
	}

	out, err := call(ctx, token)
	if err == nil || !IsTokenExpired(err) {
		return out, token, err
	}
	if cookie == "" {
		return zero, token, needReLogin(err)
	}

	fresh, refreshErr := r.RefreshToken(ctx, cookie)
	if refreshErr != nil {
		return zero, token, needReLogin(refreshErr)
	}

	out, err = call(ctx, fresh)
	if err != nil && IsTokenExpired(err) {
		return zero, fresh, needReLogin(err)
	}
	return out, fresh, err
}

func needReLogin(cause error) error {
	if IsTokenExpired(cause) {
		return &domain.AuthError{Status: http.StatusUnauthorized, NeedReLogin: true, Err: cause}
	}
	var authErr *domain.AuthError
	if errors.As(cause, &authErr) {
		return cause
	}
	// Transport and server failures during refresh stay retryable.
	switch domain.ActionFor(cause) {
	case domain.ActionRetry, domain.ActionWait:
		return cause
	}
	return &domain.AuthError{Status: http.StatusUnauthorized, NeedReLogin: true, Err: cause}
}
