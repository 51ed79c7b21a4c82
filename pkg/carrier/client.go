// Package carrier talks to the carrier's identity provider, web app, MFA
// endpoints and GraphQL gateway.
package carrier

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
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/tendant/esimkit/pkg/domain"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
	maxBodyLogBytes  = 512
)

// Config configures the upstream client.
type Config struct {
	APIBaseURL string
	IDBaseURL  string
	WebBaseURL string

	ClientID     string
	ClientSecret string
	RedirectURI  string

	Device    DeviceIdentity
	Timeout   time.Duration
	UserAgent string

	// HTTPClient overrides the transport (tests point it at a fake carrier).
	HTTPClient *http.Client

	// CSRFCache stores web CSRF tokens per cookie. Defaults to no caching.
	CSRFCache CSRFCache

	// Clock stamps derived expiry times. Defaults to the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// CSRFCache is a short-lived store for CSRF tokens keyed by cookie hash.
type CSRFCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Client is a carrier API client. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	oauth  *oauth2.Config
	csrf   CSRFCache
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a carrier client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	cfg.Device = cfg.Device.withDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// Web pages answer an expired cookie with a redirect to the login form;
	// that redirect is the signal, so it is never followed.
	noRedirect := *httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	csrf := cfg.CSRFCache
	if csrf == nil {
		csrf = noCache{}
	}

	return &Client{
		cfg:  cfg,
		http: &noRedirect,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   strings.TrimRight(cfg.IDBaseURL, "/") + "/auth/oauth/authorize",
				TokenURL:  strings.TrimRight(cfg.IDBaseURL, "/") + "/auth/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		csrf:   csrf,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Timeout returns the per-call budget.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

func (c *Client) apiURL(path string) string {
	return strings.TrimRight(c.cfg.APIBaseURL, "/") + path
}

func (c *Client) webURL(path string) string {
	return strings.TrimRight(c.cfg.WebBaseURL, "/") + path
}

// request describes one upstream call.
type request struct {
	op      string
	method  string
	url     string
	body    any
	form    string
	headers http.Header
	// expiredOnRedirect treats a 3xx as an expired web session.
	expiredOnRedirect bool
	// client overrides the shared transport, e.g. one with a cookie jar.
	client *http.Client
}

// response is a fully read upstream answer.
type response struct {
	status  int
	header  http.Header
	body    []byte
	cookies []*http.Cookie
}

// do executes req with the configured timeout and classifies failures into
// the domain error taxonomy. Non-2xx answers become errors.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(req, resp); err != nil {
		c.logger.Debug("upstream call failed", "op", req.op, "status", resp.status)
		return nil, err
	}
	return resp, nil
}

// send executes req without checking the status code.
func (c *Client) send(ctx context.Context, req request) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	switch {
	case req.form != "":
		body = strings.NewReader(req.form)
	case req.body != nil:
		buf, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", req.op, err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	switch {
	case req.form != "":
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case req.body != nil:
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.headers {
		// Assigned directly so non-canonical names survive.
		httpReq.Header[k] = vs
	}

	hc := c.http
	if req.client != nil {
		hc = req.client
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, req.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, req.op, err)
	}
	return &response{
		status:  resp.StatusCode,
		header:  resp.Header,
		body:    data,
		cookies: resp.Cookies(),
	}, nil
}

// transportError maps a transport failure to TimeoutError when the call's
// budget ran out. A cancelled parent context is returned as is.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.TimeoutError{Op: op, Timeout: c.cfg.Timeout, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeJSON(op string, resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxBodyLogBytes {
		cut := maxBodyLogBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool, error)       { return "", false, nil }
func (noCache) Set(context.Context, string, string, time.Duration) error { return nil }
