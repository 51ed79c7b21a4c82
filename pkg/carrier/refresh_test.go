package carrier

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/pkg/domain"
)

type fakeRefresher struct {
	token string
	err   error
	calls int
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, cookie string) (string, error) {
	f.calls++
	return f.token, f.err
}

var errExpired = &domain.TokenExpiredError{Op: "graphql", Status: http.StatusUnauthorized}

func TestCallWithRefresh_NoRefreshNeeded(t *testing.T) {
	r := &fakeRefresher{token: "fresh"}
	out, used, err := CallWithRefresh(context.Background(), r, "tok", "ck", func(ctx context.Context, tok string) (string, error) {
		return "ok:" + tok, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok:tok", out)
	assert.Equal(t, "tok", used)
	assert.Zero(t, r.calls)
}

func TestCallWithRefresh_RetriesOnceWithFreshToken(t *testing.T) {
	r := &fakeRefresher{token: "fresh"}
	var seen []string
	out, used, err := CallWithRefresh(context.Background(), r, "stale", "ck", func(ctx context.Context, tok string) (string, error) {
		seen = append(seen, tok)
		if tok == "stale" {
			return "", errExpired
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "fresh", used)
	assert.Equal(t, []string{"stale", "fresh"}, seen)
	assert.Equal(t, 1, r.calls)
}

func TestCallWithRefresh_SecondExpiryNeedsReLogin(t *testing.T) {
	r := &fakeRefresher{token: "fresh"}
	calls := 0
	_, _, err := CallWithRefresh(context.Background(), r, "stale", "ck", func(ctx context.Context, tok string) (string, error) {
		calls++
		return "", errExpired
	})
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.NeedReLogin)
	assert.Equal(t, 2, calls)
}

func TestCallWithRefresh_NoCookieNeedsReLogin(t *testing.T) {
	r := &fakeRefresher{token: "fresh"}
	_, _, err := CallWithRefresh(context.Background(), r, "stale", "", func(ctx context.Context, tok string) (string, error) {
		return "", errExpired
	})
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.NeedReLogin)
	assert.Zero(t, r.calls)
}

func TestCallWithRefresh_FailedRefresh(t *testing.T) {
	tests := []struct {
		name        string
		refreshErr  error
		needReLogin bool
	}{
		{"expired cookie", &domain.TokenExpiredError{Op: "cookie", Status: http.StatusUnauthorized}, true},
		{"unusable cookie", &domain.AuthError{Status: http.StatusUnauthorized, NeedReLogin: true, Err: domain.ErrNeedReLogin}, true},
		{"connection reset", errors.New("connection reset by peer"), false},
		{"carrier down", &domain.UpstreamError{Op: "cookie", Status: http.StatusBadGateway}, false},
		{"timeout", &domain.TimeoutError{Op: "cookie"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRefresher{err: tt.refreshErr}
			_, _, err := CallWithRefresh(context.Background(), r, "stale", "ck", func(ctx context.Context, tok string) (string, error) {
				return "", errExpired
			})
			require.Error(t, err)
			var authErr *domain.AuthError
			assert.Equal(t, tt.needReLogin, errors.As(err, &authErr) && authErr.NeedReLogin)
		})
	}
}

func TestCallWithRefresh_CookieOnly(t *testing.T) {
	r := &fakeRefresher{token: "fresh"}
	out, used, err := CallWithRefresh(context.Background(), r, "", "ck", func(ctx context.Context, tok string) (string, error) {
		return tok, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", out)
	assert.Equal(t, "fresh", used)

	_, _, err = CallWithRefresh(context.Background(), r, "", "", func(ctx context.Context, tok string) (string, error) {
		t.Fatal("call must not run without credentials")
		return "", nil
	})
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestCallWithRefresh_OtherErrorsPassThrough(t *testing.T) {
	r := &fakeRefresher{token: "fresh"}
	upstream := &domain.UpstreamError{Op: "graphql", Status: http.StatusBadGateway}
	_, _, err := CallWithRefresh(context.Background(), r, "tok", "ck", func(ctx context.Context, tok string) (string, error) {
		return "", upstream
	})
	assert.Same(t, upstream, err)
	assert.Zero(t, r.calls)
}
