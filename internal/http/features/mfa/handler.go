package mfa

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

// Service issues and redeems one-time codes upstream. Both calls return the
// access token finally used, which differs from the input after a refresh.
type Service interface {
	Challenge(ctx context.Context, token, cookie string, channel domain.MFAChannel) (*domain.MFAChallenge, string, error)
	Validate(ctx context.Context, token, cookie, ref, code string, via domain.MFAVia) (string, string, error)
}

// Handler handles MFA-related HTTP requests
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler creates a new MFA handler
func NewHandler(logger *slog.Logger, service Service) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
	}
}

// Challenge handles POST /api/giffgaff-mfa-challenge
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req api.MFAChallengeRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	channel, err := domain.ParseMFAChannel(req.Channel)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	token := httputil.AccessToken(r, req.AccessToken)
	cookie := httputil.CarrierCookie(r, req.Cookie)
	if token == "" && cookie == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("accessToken", domain.ErrMissingCredentials))
		return
	}

	challenge, used, err := h.service.Challenge(r.Context(), token, cookie, channel)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	resp := api.MFAChallengeResponse{Success: true, Ref: challenge.Ref, Via: challenge.Via}
	if refreshed(token, used) {
		w.Header().Set(api.HeaderAccessToken, used)
		resp.AccessToken = used
	}
	h.logger.Info("mfa challenge sent", "via", challenge.Via, "channel", channel, "refreshed", resp.AccessToken != "")
	httputil.JSON(w, http.StatusOK, resp)
}

// Validate handles POST /api/giffgaff-mfa-validation
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req api.MFAValidationRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := domain.ValidateMFACode(req.Code); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if req.Ref == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("ref", domain.ErrMissingRef))
		return
	}
	token := httputil.AccessToken(r, req.AccessToken)
	cookie := httputil.CarrierCookie(r, req.Cookie)
	if token == "" && cookie == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("accessToken", domain.ErrMissingCredentials))
		return
	}

	via := req.Via
	if via == "" {
		via = domain.MFAViaApp
	}
	sig, used, err := h.service.Validate(r.Context(), token, cookie, req.Ref, req.Code, via)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	resp := api.MFAValidationResponse{Success: true, Signature: sig}
	if refreshed(token, used) {
		w.Header().Set(api.HeaderAccessToken, used)
		resp.AccessToken = used
	}
	h.logger.Info("mfa code validated", "via", via, "refreshed", resp.AccessToken != "")
	httputil.JSON(w, http.StatusOK, resp)
}

func refreshed(sent, used string) bool {
	return used != "" && used != sent
}
