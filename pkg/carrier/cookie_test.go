package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/internal/carriersim"
	"github.com/tendant/esimkit/pkg/domain"
)

func TestNormalizeCookie(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"abc123", "gg_session=abc123"},
		{"gg_session=abc123", "gg_session=abc123"},
		{"Cookie: gg_session=abc; XSRF-TOKEN=x", "gg_session=abc; XSRF-TOKEN=x"},
		{"cookie:abc", "gg_session=abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCookie(tt.in), "input %q", tt.in)
	}
}

func TestVerifyCookie_FullSuccess(t *testing.T) {
	_, c := newSim(t, nil)

	v, err := c.VerifyCookie(context.Background(), testSession)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.False(t, v.PartialSuccess)
	assert.True(t, LooksLikeJWT(v.AccessToken))
	assert.Equal(t, "member-0001", v.MemberID)
	assert.NotZero(t, v.ExpiresAt)
}

func TestVerifyCookie_TokenLength(t *testing.T) {
	long := strings.Repeat("a", 120) + "." + strings.Repeat("b", 129)
	short := "abcdefghij.klmnopqrstuvwxyz0123456789abcd"

	tests := []struct {
		name    string
		token   string
		valid   bool
		partial bool
	}{
		{"250 char token is usable", long, true, false},
		{"40 char session id is partial", short, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newSim(t, func(cfg *carriersim.Config) { cfg.CookieToken = tt.token })

			v, err := c.VerifyCookie(context.Background(), "gg_session="+testSession)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, v.Valid)
			assert.Equal(t, tt.partial, v.PartialSuccess)
			assert.Equal(t, "member-0001", v.MemberID)
		})
	}
}

func TestVerifyCookie_Expired(t *testing.T) {
	sim, c := newSim(t, nil)
	sim.ExpireCookie(testSession)

	_, err := c.VerifyCookie(context.Background(), testSession)
	require.Error(t, err)
	assert.True(t, IsTokenExpired(err))
	assert.Equal(t, domain.ActionReauthenticate, domain.ActionFor(err))
}

func TestVerifyCookie_Empty(t *testing.T) {
	sim, c := newSim(t, nil)

	_, err := c.VerifyCookie(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrMissingCookie)
	assert.Empty(t, sim.Calls())
}

func TestRefreshToken(t *testing.T) {
	_, c := newSim(t, nil)
	tok, err := c.RefreshToken(context.Background(), testSession)
	require.NoError(t, err)
	assert.True(t, LooksLikeJWT(tok))

	_, partial := newSim(t, func(cfg *carriersim.Config) { cfg.CookieToken = "short-session-id" })
	_, err = partial.RefreshToken(context.Background(), testSession)
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.NeedReLogin)
}

func TestVerifyCookie_ExpiresInUsesClientClock(t *testing.T) {
	// Signed without exp, so the expiry comes from expires_in.
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "member-0009",
		"scope": strings.Repeat("esim ", 50),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	require.True(t, LooksLikeJWT(accessToken))
	require.True(t, TokenExpiry(accessToken).IsZero())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/id/auth/session/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"expires_in":   3600,
			"member_id":    "member-0009",
		})
	}))
	t.Cleanup(srv.Close)

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(Config{WebBaseURL: srv.URL, Timeout: 5 * time.Second, Clock: mock, Logger: discardLogger()})

	v, err := c.VerifyCookie(context.Background(), testSession)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "member-0009", v.MemberID)
	assert.Equal(t, mock.Now().Add(time.Hour).Unix(), v.ExpiresAt)
}
