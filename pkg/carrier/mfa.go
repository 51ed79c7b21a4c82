package carrier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tendant/esimkit/pkg/domain"
)

// CSRFTokenTTL bounds how long a scraped CSRF token is reused.
const CSRFTokenTTL = 10 * time.Minute

const (
	xsrfCookieName = "XSRF-TOKEN"
	xsrfHeaderName = "X-XSRF-TOKEN"
	appMFASource   = "esim"
)

type challengeResponse struct {
	Ref string `json:"ref"`
}

type validationResponse struct {
	Signature string `json:"signature"`
}

// WebChallenge requests a one-time code through the cookie-backed web app.
func (c *Client) WebChallenge(ctx context.Context, raw string, channel domain.MFAChannel) (string, error) {
	cookie := NormalizeCookie(raw)
	if cookie == "" {
		return "", domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}
	headers, err := c.webHeaders(ctx, cookie)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, request{
		op:      "web mfa challenge",
		method:  http.MethodPost,
		url:     c.webURL("/mfa/challenge"),
		body:    map[string]string{"method": channel.WebMethod()},
		headers: headers,
	})
	if err != nil {
		return "", err
	}
	var out challengeResponse
	if err := decodeJSON("web mfa challenge", resp, &out); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", &domain.UpstreamError{Op: "web mfa challenge", Status: resp.status, Body: "response carried no ref"}
	}
	return out.Ref, nil
}

// WebValidate redeems a code issued by WebChallenge.
func (c *Client) WebValidate(ctx context.Context, raw, ref, code string) (string, error) {
	if err := checkRefAndCode(ref, code); err != nil {
		return "", err
	}
	cookie := NormalizeCookie(raw)
	if cookie == "" {
		return "", domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}
	headers, err := c.webHeaders(ctx, cookie)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, request{
		op:      "web mfa validation",
		method:  http.MethodPost,
		url:     c.webURL("/mfa/validation"),
		body:    map[string]string{"ref": ref, "code": code},
		headers: headers,
	})
	if err != nil {
		return "", err
	}
	return signatureFrom("web mfa validation", resp)
}

// AppChallenge requests a one-time code through the bearer-authenticated
// app API.
func (c *Client) AppChallenge(ctx context.Context, token string, channel domain.MFAChannel) (string, error) {
	if token == "" {
		return "", domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	resp, err := c.do(ctx, request{
		op:     "app mfa challenge",
		method: http.MethodPost,
		url:    c.apiURL("/v1/mfa/challenge"),
		body: map[string]any{
			"source":            appMFASource,
			"preferredChannels": []string{string(channel)},
		},
		headers: bearer(token),
	})
	if err != nil {
		return "", err
	}
	var out challengeResponse
	if err := decodeJSON("app mfa challenge", resp, &out); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", &domain.UpstreamError{Op: "app mfa challenge", Status: resp.status, Body: "response carried no ref"}
	}
	return out.Ref, nil
}

// AppValidate redeems a code issued by AppChallenge or by the sim swap
// challenge mutation.
func (c *Client) AppValidate(ctx context.Context, token, ref, code string) (string, error) {
	if err := checkRefAndCode(ref, code); err != nil {
		return "", err
	}
	if token == "" {
		return "", domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	resp, err := c.do(ctx, request{
		op:      "app mfa validation",
		method:  http.MethodPost,
		url:     c.apiURL("/v1/mfa/validation"),
		body:    map[string]string{"ref": ref, "code": code},
		headers: bearer(token),
	})
	if err != nil {
		return "", err
	}
	return signatureFrom("app mfa validation", resp)
}

func checkRefAndCode(ref, code string) error {
	if err := domain.ValidateMFACode(code); err != nil {
		return err
	}
	if ref == "" {
		return domain.NewValidationError("ref", domain.ErrMissingRef)
	}
	return nil
}

func signatureFrom(op string, resp *response) (string, error) {
	var out validationResponse
	if err := decodeJSON(op, resp, &out); err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", &domain.UpstreamError{Op: op, Status: resp.status, Body: "response carried no signature"}
	}
	return out.Signature, nil
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

// webHeaders builds the cookie and CSRF headers for a web app mutation.
func (c *Client) webHeaders(ctx context.Context, cookie string) (http.Header, error) {
	csrf, err := c.csrfToken(ctx, cookie)
	if err != nil {
		return nil, err
	}
	return http.Header{
		"Cookie":       {cookie},
		xsrfHeaderName: {csrf},
		"Origin":       {c.cfg.WebBaseURL},
		"Referer":      {c.webURL("/profile/security")},
	}, nil
}

// csrfToken returns the web app's CSRF token for cookie. It prefers a token
// already present in the cookie, then the cache, then scrapes the security
// page and caches the result.
func (c *Client) csrfToken(ctx context.Context, cookie string) (string, error) {
	if v := cookieValue(cookie, xsrfCookieName); v != "" {
		return v, nil
	}

	key := "csrf:" + cookieKey(cookie)
	if v, ok, err := c.csrf.Get(ctx, key); err != nil {
		c.logger.Warn("csrf cache read failed", "error", err)
	} else if ok {
		return v, nil
	}

	resp, err := c.do(ctx, request{
		op:                "csrf fetch",
		method:            http.MethodGet,
		url:               c.webURL("/profile/security"),
		headers:           http.Header{"Cookie": {cookie}},
		expiredOnRedirect: true,
	})
	if err != nil {
		return "", err
	}

	token := ""
	for _, ck := range resp.cookies {
		if ck.Name == xsrfCookieName && ck.Value != "" {
			token = ck.Value
			break
		}
	}
	if token == "" {
		if p, parseErr := parsePage(resp.body); parseErr == nil {
			token = p.meta("csrf-token")
		}
	}
	if token == "" {
		return "", &domain.UpstreamError{Op: "csrf fetch", Status: resp.status, Body: "no CSRF token on page"}
	}

	if err := c.csrf.Set(ctx, key, token, CSRFTokenTTL); err != nil {
		c.logger.Warn("csrf cache write failed", "error", err)
	}
	return token, nil
}

// Challenge prefers the web channel when a cookie is present and falls back
// to the app channel through CallWithRefresh. It returns the challenge and
// the access token finally used (empty when only the web channel ran).
func (c *Client) Challenge(ctx context.Context, token, cookie string, channel domain.MFAChannel) (*domain.MFAChallenge, string, error) {
	if token == "" && cookie == "" {
		return nil, "", domain.NewValidationError("accessToken", domain.ErrMissingCredentials)
	}
	if cookie != "" {
		ref, err := c.WebChallenge(ctx, cookie, channel)
		if err == nil {
			return &domain.MFAChallenge{Ref: ref, Via: domain.MFAViaWeb, Channel: channel}, token, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, token, err
		}
		c.logger.Info("web mfa challenge failed, falling back to app channel", "error", err)
	}

	ref, used, err := CallWithRefresh(ctx, c, token, cookie, func(ctx context.Context, tok string) (string, error) {
		return c.AppChallenge(ctx, tok, channel)
	})
	if err != nil {
		return nil, used, fmt.Errorf("mfa challenge: %w", err)
	}
	return &domain.MFAChallenge{Ref: ref, Via: domain.MFAViaApp, Channel: channel}, used, nil
}

// Validate redeems a code against the channel that issued ref.
func (c *Client) Validate(ctx context.Context, token, cookie, ref, code string, via domain.MFAVia) (string, string, error) {
	if err := checkRefAndCode(ref, code); err != nil {
		return "", token, err
	}
	if via == domain.MFAViaWeb && cookie != "" {
		sig, err := c.WebValidate(ctx, cookie, ref, code)
		return sig, token, err
	}
	sig, used, err := CallWithRefresh(ctx, c, token, cookie, func(ctx context.Context, tok string) (string, error) {
		return c.AppValidate(ctx, tok, ref, code)
	})
	if err != nil {
		return "", used, fmt.Errorf("mfa validation: %w", err)
	}
	return sig, used, nil
}
