package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/session"
	"go.uber.org/atomic"
)

// MonitorInterval is how often a stored cookie is re-verified.
const MonitorInterval = 5 * time.Minute

// CookieResult is the outcome of a cookie login.
type CookieResult struct {
	Valid          bool
	PartialSuccess bool
	MemberID       string
	Message        string
}

// CookieHandler logs in with a raw session cookie and keeps it alive.
type CookieHandler struct {
	bff    *BFF
	store  *session.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending string

	running atomic.Bool
	visible *atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	expired chan struct{}
}

// NewCookieHandler creates the handler. The monitor starts stopped and
// visible.
func NewCookieHandler(bff *BFF, store *session.Store, logger *slog.Logger) *CookieHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CookieHandler{
		bff:     bff,
		store:   store,
		logger:  logger,
		visible: atomic.NewBool(true),
		expired: make(chan struct{}, 1),
	}
}

// VerifyCookie asks the BFF to derive an API token from cookie. A full
// success stores both the cookie and the token. A partial success is
// returned but not stored until AcceptPartial is called.
func (h *CookieHandler) VerifyCookie(ctx context.Context, cookie string) (*CookieResult, error) {
	cookie = carrier.NormalizeCookie(cookie)
	if cookie == "" {
		return nil, domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}

	resp, err := h.bff.VerifyCookie(ctx, cookie)
	if err != nil {
		return nil, err
	}
	result := &CookieResult{
		Valid:          resp.Valid && carrier.LooksLikeJWT(resp.AccessToken),
		PartialSuccess: resp.PartialSuccess,
		MemberID:       resp.MemberID,
		Message:        resp.Message,
	}
	if resp.Valid && !result.Valid {
		result.PartialSuccess = true
	}

	if !result.Valid {
		h.mu.Lock()
		h.pending = cookie
		h.mu.Unlock()
		h.logger.Info("cookie accepted without api token", "partial", result.PartialSuccess)
		return result, nil
	}

	_, err = h.store.Update(ctx, func(s *domain.SessionState) error {
		s.Cookie = cookie
		s.AccessToken = resp.AccessToken
		if resp.MemberID != "" {
			s.MemberID = resp.MemberID
		}
		s.AdvanceTo(domain.StepMFA)
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info("cookie login succeeded", "token_len", len(resp.AccessToken))
	return result, nil
}

// AcceptPartial stores the cookie from the last partial verification, the
// "continue anyway" override.
func (h *CookieHandler) AcceptPartial(ctx context.Context) error {
	h.mu.Lock()
	cookie := h.pending
	h.pending = ""
	h.mu.Unlock()
	if cookie == "" {
		return domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}
	_, err := h.store.Update(ctx, func(s *domain.SessionState) error {
		s.Cookie = cookie
		s.AdvanceTo(domain.StepMFA)
		return nil
	})
	return err
}

// Expired fires once each time the monitor finds the stored cookie expired.
func (h *CookieHandler) Expired() <-chan struct{} {
	return h.expired
}

// SetVisible pauses (false) or resumes (true) the monitor's checks.
func (h *CookieHandler) SetVisible(visible bool) {
	h.visible.Store(visible)
}

// StartValidityMonitor re-verifies the stored cookie every MonitorInterval.
// Calling it while running is a no-op.
func (h *CookieHandler) StartValidityMonitor() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	ticker := h.store.Clock().Ticker(MonitorInterval)
	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.check()
			}
		}
	}()
}

// StopValidityMonitor stops the monitor and waits for it to exit.
func (h *CookieHandler) StopValidityMonitor() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.stop)
	<-h.done
}

func (h *CookieHandler) check() {
	if !h.visible.Load() {
		return
	}
	cookie := h.store.Snapshot().Cookie
	if cookie == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	resp, err := h.bff.VerifyCookie(ctx, cookie)
	if err != nil {
		if !isCookieExpired(err) {
			var authErr *domain.AuthError
			if errors.As(err, &authErr) {
				h.logger.Warn("cookie check rejected by the BFF, session kept", "status", authErr.Status, "error", err)
				return
			}
			h.logger.Debug("cookie check failed, retrying next tick", "error", err)
			return
		}
		h.logger.Warn("stored cookie expired")
		if err := h.store.Clear(ctx); err != nil {
			h.logger.Error("clear expired session", "error", err)
		}
		select {
		case h.expired <- struct{}{}:
		default:
		}
		return
	}

	if resp.Valid && resp.AccessToken != "" && resp.AccessToken != h.store.Snapshot().AccessToken {
		_, err := h.store.Update(ctx, func(s *domain.SessionState) error {
			s.AccessToken = resp.AccessToken
			return nil
		})
		if err != nil {
			h.logger.Error("store refreshed token", "error", err)
		}
	}
}

// isCookieExpired reports whether the BFF said the carrier session is gone.
// Access-key and origin rejections are configuration problems, not expiry.
func isCookieExpired(err error) bool {
	if carrier.IsTokenExpired(err) {
		return true
	}
	var authErr *domain.AuthError
	return errors.As(err, &authErr) && authErr.NeedReLogin
}
