package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/session"
	"golang.org/x/oauth2"
)

// PendingLoginTTL bounds how long a started login can be completed.
const PendingLoginTTL = 10 * time.Minute

// Captcha wait: the anti-automation token is polled this many times at
// this interval before the exchange proceeds without it.
const (
	captchaAttempts = 5
	captchaInterval = 500 * time.Millisecond
)

// OAuthConfig describes the carrier's authorization endpoint as seen by the
// client. The client secret never appears here.
type OAuthConfig struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scopes       []string
}

// Opener shows the authorization URL to the user (a browser, a terminal
// prompt, a test recorder).
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

// CaptchaSource yields an anti-automation token once one is available.
type CaptchaSource interface {
	Token() string
}

// LoginAttempt is a started PKCE login.
type LoginAttempt struct {
	URL       string
	State     string
	Challenge string
}

// OAuthHandler runs the authorization code flow with PKCE.
type OAuthHandler struct {
	bff     *BFF
	store   *session.Store
	cfg     OAuthConfig
	opener  Opener
	captcha CaptchaSource
	logger  *slog.Logger
}

// NewOAuthHandler creates the handler. opener and captcha may be nil.
func NewOAuthHandler(bff *BFF, store *session.Store, cfg OAuthConfig, opener Opener, captcha CaptchaSource, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHandler{bff: bff, store: store, cfg: cfg, opener: opener, captcha: captcha, logger: logger}
}

func (h *OAuthHandler) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    h.cfg.ClientID,
		RedirectURL: h.cfg.RedirectURI,
		Scopes:      h.cfg.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: h.cfg.AuthorizeURL},
	}
}

// CodeChallenge derives the S256 challenge for verifier.
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// StartLogin creates a verifier and state, remembers the pair and opens the
// authorization URL. Several logins may be pending at once.
func (h *OAuthHandler) StartLogin(ctx context.Context) (*LoginAttempt, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	now := h.store.Clock().Now()

	_, err := h.store.Update(ctx, func(s *domain.SessionState) error {
		if s.PendingLogins == nil {
			s.PendingLogins = make(map[string]domain.PendingLogin)
		}
		for k, p := range s.PendingLogins {
			if now.Sub(p.CreatedAt) >= PendingLoginTTL {
				delete(s.PendingLogins, k)
			}
		}
		s.PendingLogins[state] = domain.PendingLogin{Verifier: verifier, CreatedAt: now}
		s.CodeVerifier = verifier
		s.OAuthState = state
		return nil
	})
	if err != nil {
		return nil, err
	}

	attempt := &LoginAttempt{
		URL:       h.oauthConfig().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
		State:     state,
		Challenge: CodeChallenge(verifier),
	}
	if h.opener != nil {
		if err := h.opener.Open(attempt.URL); err != nil {
			return attempt, fmt.Errorf("open authorization url: %w", err)
		}
	}
	h.logger.Info("login started", "state", state)
	return attempt, nil
}

var (
	codeParam  = regexp.MustCompile(`[?&#]code=([^&#\s]+)`)
	stateParam = regexp.MustCompile(`[?&#]state=([^&#\s]+)`)
)

// ParseCallback extracts code and state from a redirect URL. Custom schemes
// (app://callback?code=...), fragments and pasted query strings all work.
func ParseCallback(callbackURL string) (code, state string) {
	raw := strings.TrimSpace(callbackURL)
	if u, err := url.Parse(raw); err == nil {
		q := u.Query()
		code, state = q.Get("code"), q.Get("state")
		if code == "" && u.Fragment != "" {
			if fq, err := url.ParseQuery(u.Fragment); err == nil {
				code, state = fq.Get("code"), fq.Get("state")
			}
		}
	}
	if code == "" {
		if m := codeParam.FindStringSubmatch("?" + raw); m != nil {
			code, _ = url.QueryUnescape(m[1])
		}
		if m := stateParam.FindStringSubmatch("?" + raw); m != nil {
			state, _ = url.QueryUnescape(m[1])
		}
	}
	return code, state
}

// ProcessCallback completes a login: it finds the verifier for the
// callback's state (falling back to the last saved one), exchanges the code
// through the BFF and stores the access token.
func (h *OAuthHandler) ProcessCallback(ctx context.Context, callbackURL string) error {
	code, state := ParseCallback(callbackURL)
	if code == "" {
		return domain.NewValidationError("code", domain.ErrMissingCode)
	}

	snap := h.store.Snapshot()
	verifier := ""
	if p, ok := snap.PendingLogins[state]; ok && state != "" {
		verifier = p.Verifier
	} else if snap.CodeVerifier != "" {
		h.logger.Warn("callback state unknown, using last saved verifier")
		verifier = snap.CodeVerifier
	}
	if verifier == "" {
		return domain.NewValidationError("state", domain.ErrMissingVerifier)
	}

	resp, err := h.bff.ExchangeCode(ctx, api.TokenExchangeRequest{
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  h.cfg.RedirectURI,
		CaptchaToken: h.waitForCaptcha(ctx),
	})
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}

	_, err = h.store.Update(ctx, func(s *domain.SessionState) error {
		s.AccessToken = resp.AccessToken
		delete(s.PendingLogins, state)
		if s.CodeVerifier == verifier {
			s.CodeVerifier = ""
			s.OAuthState = ""
		}
		s.AdvanceTo(domain.StepMFA)
		return nil
	})
	if err != nil {
		return err
	}
	h.logger.Info("login completed", "expires_in", resp.ExpiresIn)
	return nil
}

// waitForCaptcha polls the captcha source a bounded number of times and
// returns "" if no token shows up.
func (h *OAuthHandler) waitForCaptcha(ctx context.Context) string {
	if h.captcha == nil {
		return ""
	}
	clk := h.store.Clock()
	for i := 0; i < captchaAttempts; i++ {
		if token := h.captcha.Token(); token != "" {
			return token
		}
		if i == captchaAttempts-1 {
			break
		}
		t := clk.Timer(captchaInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ""
		case <-t.C:
		}
	}
	h.logger.Info("captcha token not available, continuing without it")
	return ""
}
