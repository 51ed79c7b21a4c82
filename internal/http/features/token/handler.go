package token

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/domain"
)

// Exchanger trades an authorization code for an access token.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*carrier.Token, error)
}

// Handler handles the OAuth code exchange.
type Handler struct {
	logger    *slog.Logger
	exchanger Exchanger
	captcha   *CaptchaVerifier
}

// NewHandler creates a new token handler. A nil captcha verifier skips the
// captcha check.
func NewHandler(logger *slog.Logger, exchanger Exchanger, captcha *CaptchaVerifier) *Handler {
	return &Handler{
		logger:    logger,
		exchanger: exchanger,
		captcha:   captcha,
	}
}

// Exchange handles POST /api/giffgaff-token-exchange
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.TokenExchangeRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if req.Code == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("code", domain.ErrMissingCode))
		return
	}
	if req.CodeVerifier == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("codeVerifier", domain.ErrMissingVerifier))
		return
	}

	if h.captcha != nil {
		if err := h.captcha.Verify(ctx, req.CaptchaToken, httputil.ClientIP(r)); err != nil {
			h.logger.Warn("captcha rejected", "ip", httputil.ClientIP(r), "error", err)
			httputil.WriteError(w, h.logger, err)
			return
		}
	}

	tok, err := h.exchanger.ExchangeCode(ctx, req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		h.logger.Info("token exchange failed", "error", err)
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("token exchanged", "token_len", len(tok.AccessToken), "expires_in", tok.ExpiresIn)
	httputil.JSON(w, http.StatusOK, api.TokenExchangeResponse{
		Success:     true,
		AccessToken: tok.AccessToken,
		ExpiresIn:   tok.ExpiresIn,
		TokenType:   tok.TokenType,
	})
}
