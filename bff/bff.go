// Package bff is the importable backend-for-frontend that sits between
// browsers or the CLI and the carrier.
//
// Basic usage:
//
//	cfg, _ := config.Load()
//	srv, err := bff.New(bff.Config{Settings: cfg})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(cfg.Addr(), srv.Router())
//
// Routes:
//
//	GET  /health                       - readiness
//	GET  /api/public-config            - captcha site keys, allowed origin
//	POST /api/verify-cookie            - check a carrier session cookie
//	POST /api/giffgaff-token-exchange  - OAuth code + PKCE verifier -> token
//	POST /api/giffgaff-mfa-challenge   - request a one-time code
//	POST /api/giffgaff-mfa-validation  - redeem a one-time code
//	POST /api/giffgaff-graphql         - GraphQL proxy
//	POST /api/giffgaff-sms-activate    - validate, reserve, swap, poll
//	POST /api/giffgaff-web-activate    - cookie-driven activation walk
package bff

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/tendant/esimkit/internal/config"
	httpserver "github.com/tendant/esimkit/internal/http"
	"github.com/tendant/esimkit/internal/http/features/token"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/provision"
	"go.uber.org/atomic"
)

// Config holds the configuration for the BFF.
type Config struct {
	// Settings is the environment configuration (required).
	Settings *config.Config

	// CSRFCache shares scraped CSRF tokens between instances (default: none).
	CSRFCache carrier.CSRFCache

	// HTTPClient overrides the upstream transport.
	HTTPClient *http.Client

	// Clock drives the LPA poll and upstream expiry stamps (default: wall clock).
	Clock clock.Clock

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// BFF is a configured server instance.
type BFF struct {
	config  Config
	carrier *carrier.Client
	captcha *token.CaptchaVerifier
	ready   *atomic.Bool
}

// New creates a BFF from cfg.
func New(cfg Config) (*BFF, error) {
	if cfg.Settings == nil {
		return nil, errors.New("bff: Settings is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	s := cfg.Settings
	if s.AccessKey == "" && !s.AllowOpenAccess {
		return nil, errors.New("bff: AccessKey is required unless AllowOpenAccess is set")
	}

	if !s.HasClientSecret() {
		cfg.Logger.Warn("GIFFGAFF_CLIENT_SECRET is not set, token exchange will be rejected upstream")
	}

	client := carrier.New(carrier.Config{
		APIBaseURL:   s.APIBaseURL,
		IDBaseURL:    s.IDBaseURL,
		WebBaseURL:   s.WebBaseURL,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURI:  s.RedirectURI,
		Device:       s.Device,
		Timeout:      s.UpstreamTimeout,
		HTTPClient:   cfg.HTTPClient,
		CSRFCache:    cfg.CSRFCache,
		Clock:        cfg.Clock,
		Logger:       cfg.Logger,
	})

	return &BFF{
		config:  cfg,
		carrier: client,
		captcha: token.NewCaptchaVerifier(s.CaptchaSecret, s.CaptchaVerifyURL, s.UpstreamTimeout),
		ready:   atomic.NewBool(true),
	}, nil
}

// Router returns the BFF's routes.
func (b *BFF) Router() http.Handler {
	s := b.config.Settings
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:  b.config.Logger,
		Carrier: b.carrier,
		Captcha: b.captcha,
		Clock:   b.config.Clock,
		Poll: provision.Config{
			SettleDelay: s.LPASettleDelay,
			Interval:    s.LPAPollInterval,
			Deadline:    s.LPADeadline,
		},
		AllowedOrigin:   s.AllowedOrigin,
		AccessKey:       s.AccessKey,
		AllowOpenAccess: s.AllowOpenAccess,
		CaptchaSiteKeys: s.CaptchaSiteKeys,
		RateLimitConfig: s.RateLimit,
		SecurityHeaders: s.SecurityHeaders,
		Validation:      s.Validation,
		Ready:           b.ready.Load,
	})
}

// SetReady flips the /health answer, e.g. to drain before shutdown.
func (b *BFF) SetReady(ready bool) {
	b.ready.Store(ready)
}

// Carrier returns the upstream client for advanced usage.
func (b *BFF) Carrier() *carrier.Client {
	return b.carrier
}
