package carrier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/esimkit/pkg/domain"
)

// SessionCookieName is the carrier's web session cookie. Bare values are
// sent under this name.
const SessionCookieName = "gg_session"

// NormalizeCookie turns user input (a bare session value, a name=value pair,
// or a copied "Cookie:" header) into a Cookie header value.
func NormalizeCookie(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "cookie:") {
		s = strings.TrimSpace(s[7:])
	}
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "=") {
		return SessionCookieName + "=" + s
	}
	return s
}

// cookieValue returns the named value from a Cookie header string.
func cookieValue(cookie, name string) string {
	for _, part := range strings.Split(cookie, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}

// cookieKey is the cache key for per-cookie data. The raw cookie is never
// used as a key.
func cookieKey(cookie string) string {
	sum := sha256.Sum256([]byte(cookie))
	return hex.EncodeToString(sum[:16])
}

type sessionTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	MemberID    string `json:"member_id"`
}

// VerifyCookie checks the web app with cookie and tries to derive an API
// token from it. A JWT-shaped token is full success; a live session without
// one is a partial success. An expired cookie returns TokenExpiredError.
func (c *Client) VerifyCookie(ctx context.Context, raw string) (*domain.CookieVerification, error) {
	cookie := NormalizeCookie(raw)
	if cookie == "" {
		return nil, domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}
	headers := http.Header{"Cookie": {cookie}}

	var derived sessionTokenResponse
	resp, err := c.do(ctx, request{
		op:                "cookie token check",
		method:            http.MethodGet,
		url:               c.webURL("/id/auth/session/token"),
		headers:           headers,
		expiredOnRedirect: true,
	})
	switch {
	case err == nil:
		if decodeErr := decodeJSON("cookie token check", resp, &derived); decodeErr != nil {
			c.logger.Debug("cookie token check returned non-JSON", "error", decodeErr)
		}
	case IsTokenExpired(err):
		return nil, err
	default:
		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Debug("cookie token check failed, falling back to page check", "error", err)
	}

	if LooksLikeJWT(derived.AccessToken) {
		result := &domain.CookieVerification{
			Valid:       true,
			AccessToken: derived.AccessToken,
			MemberID:    derived.MemberID,
			Message:     "cookie verified",
		}
		if exp := TokenExpiry(derived.AccessToken); !exp.IsZero() {
			result.ExpiresAt = exp.Unix()
		} else if derived.ExpiresIn > 0 {
			result.ExpiresAt = c.clock.Now().Add(time.Duration(derived.ExpiresIn) * time.Second).Unix()
		}
		return result, nil
	}

	page, err := c.do(ctx, request{
		op:                "cookie page check",
		method:            http.MethodGet,
		url:               c.webURL("/dashboard"),
		headers:           headers,
		expiredOnRedirect: true,
	})
	if err != nil {
		return nil, err
	}
	memberID := derived.MemberID
	if memberID == "" {
		memberID = scrapeMemberID(page.body)
	}
	return &domain.CookieVerification{
		Valid:          false,
		PartialSuccess: true,
		AccessToken:    derived.AccessToken,
		MemberID:       memberID,
		Message:        "session cookie is valid but no API token could be derived; you can continue with the cookie only",
	}, nil
}

// RefreshToken derives a fresh API token from cookie.
func (c *Client) RefreshToken(ctx context.Context, cookie string) (string, error) {
	v, err := c.VerifyCookie(ctx, cookie)
	if err != nil {
		return "", err
	}
	if !v.Valid || v.AccessToken == "" {
		return "", &domain.AuthError{Status: http.StatusUnauthorized, NeedReLogin: true, Err: domain.ErrNeedReLogin}
	}
	return v.AccessToken, nil
}
