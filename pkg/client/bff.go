// Package client drives the eSIM provisioning flow against the BFF.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

// DefaultTimeout bounds every BFF call. The sms-activate endpoint polls
// for up to two minutes server-side and gets LongTimeout instead.
const (
	DefaultTimeout = 30 * time.Second
	LongTimeout    = 150 * time.Second
)

// BFFConfig configures the BFF transport.
type BFFConfig struct {
	BaseURL    string
	AccessKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// BFF is a typed HTTP client for the BFF endpoints.
type BFF struct {
	baseURL   string
	accessKey string
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
}

// NewBFF creates a BFF client.
func NewBFF(cfg BFFConfig) *BFF {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BFF{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		timeout:   cfg.Timeout,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

// post sends in as JSON to path and decodes a 2xx body into out. Failed
// calls are decoded from the BFF error envelope into domain errors.
func (b *BFF) post(ctx context.Context, path string, in, out any) (http.Header, error) {
	return b.postWithTimeout(ctx, path, b.timeout, in, out)
}

func (b *BFF) postWithTimeout(ctx context.Context, path string, timeout time.Duration, in, out any) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.accessKey != "" {
		req.Header.Set(api.HeaderAccessKey, b.accessKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, path, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, path, timeout, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.Header, decodeError(path, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.Header, fmt.Errorf("%s: decode response: %w", path, err)
		}
	}
	return resp.Header, nil
}

func transportError(ctx context.Context, op string, timeout time.Duration, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// decodeError rebuilds the domain error a BFF failure stands for.
func decodeError(op string, status int, data []byte) error {
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(data))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}
	switch {
	case e.Error == api.CodeValidation:
		return &domain.ValidationError{Err: errors.New(e.Message)}
	case e.Error == api.CodeTokenExpired:
		return &domain.TokenExpiredError{Op: op, Status: status, Body: e.Message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.AuthError{Status: status, NeedReLogin: e.NeedReLogin, Err: errors.New(e.Message)}
	case e.Error == api.CodeLpaTimeout:
		return &domain.LpaTimeoutError{LastErr: errors.New(e.Message)}
	case e.Error == api.CodeTimeout || status == http.StatusGatewayTimeout:
		return &domain.TimeoutError{Op: op, Err: errors.New(e.Message)}
	}
	upstream := status
	if e.UpstreamStatus != 0 {
		upstream = e.UpstreamStatus
	}
	return &domain.UpstreamError{Op: op, Status: upstream, Body: e.Message}
}

// VerifyCookie asks the BFF to derive a token from cookie.
func (b *BFF) VerifyCookie(ctx context.Context, cookie string) (*api.VerifyCookieResponse, error) {
	var out api.VerifyCookieResponse
	if _, err := b.post(ctx, api.PathVerifyCookie, api.VerifyCookieRequest{Cookie: cookie}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeCode exchanges an authorization code server-side.
func (b *BFF) ExchangeCode(ctx context.Context, req api.TokenExchangeRequest) (*api.TokenExchangeResponse, error) {
	var out api.TokenExchangeResponse
	if _, err := b.post(ctx, api.PathTokenExchange, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MFAChallenge requests a one-time code.
func (b *BFF) MFAChallenge(ctx context.Context, req api.MFAChallengeRequest) (*api.MFAChallengeResponse, error) {
	var out api.MFAChallengeResponse
	if _, err := b.post(ctx, api.PathMFAChallenge, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MFAValidation redeems a one-time code.
func (b *BFF) MFAValidation(ctx context.Context, req api.MFAValidationRequest) (*api.MFAValidationResponse, error) {
	var out api.MFAValidationResponse
	if _, err := b.post(ctx, api.PathMFAValidation, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GraphQL runs one operation through the proxy and returns the raw GraphQL
// body plus the refreshed access token, if the proxy had to refresh.
func (b *BFF) GraphQL(ctx context.Context, req api.GraphQLProxyRequest) (json.RawMessage, string, error) {
	var out json.RawMessage
	header, err := b.post(ctx, api.PathGraphQL, req, &out)
	if err != nil {
		return nil, "", err
	}
	return out, header.Get(api.HeaderAccessToken), nil
}

// SMSActivate runs the whole validate, reserve, swap and poll sequence
// server-side.
func (b *BFF) SMSActivate(ctx context.Context, req api.SMSActivateRequest) (*api.SMSActivateResponse, error) {
	var out api.SMSActivateResponse
	if _, err := b.postWithTimeout(ctx, api.PathSMSActivate, LongTimeout, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WebActivate walks the web confirmation flow server-side.
func (b *BFF) WebActivate(ctx context.Context, req api.WebActivateRequest) (*api.WebActivateResponse, error) {
	var out api.WebActivateResponse
	if _, err := b.post(ctx, api.PathWebActivate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
