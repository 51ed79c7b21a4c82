package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/esimkit/pkg/domain"
)

// CaptchaVerifier checks anti-automation tokens against a siteverify
// endpoint (Turnstile and reCAPTCHA share the contract).
type CaptchaVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewCaptchaVerifier creates a verifier. It returns nil when secret is
// empty, which disables verification.
func NewCaptchaVerifier(secret, verifyURL string, timeout time.Duration) *CaptchaVerifier {
	if secret == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CaptchaVerifier{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns nil when the provider accepts token.
func (v *CaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return domain.NewValidationError("captchaToken", domain.ErrCaptchaFailed)
	}

	form := url.Values{"secret": {v.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("captcha verify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Op: "captcha verify", Status: http.StatusBadGateway, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.UpstreamError{Op: "captcha verify", Status: http.StatusBadGateway, Body: resp.Status}
	}
	var out siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("captcha verify: decode response: %w", err)
	}
	if !out.Success {
		return &domain.AuthError{
			Status: http.StatusForbidden,
			Err:    fmt.Errorf("%w: %s", domain.ErrCaptchaFailed, strings.Join(out.ErrorCodes, ",")),
		}
	}
	return nil
}
