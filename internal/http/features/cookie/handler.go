package cookie

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

// Verifier checks a carrier web session cookie.
type Verifier interface {
	VerifyCookie(ctx context.Context, raw string) (*domain.CookieVerification, error)
}

// Handler handles cookie verification requests.
type Handler struct {
	logger   *slog.Logger
	verifier Verifier
}

// NewHandler creates a new cookie handler.
func NewHandler(logger *slog.Logger, verifier Verifier) *Handler {
	return &Handler{
		logger:   logger,
		verifier: verifier,
	}
}

// Verify handles POST /api/verify-cookie
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyCookieRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	cookie := httputil.CarrierCookie(r, req.Cookie)
	if cookie == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("cookie", domain.ErrMissingCookie))
		return
	}

	result, err := h.verifier.VerifyCookie(r.Context(), cookie)
	if err != nil {
		h.logger.Info("cookie verification failed", "ip", httputil.ClientIP(r), "error", err)
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("cookie verified",
		"valid", result.Valid,
		"partial", result.PartialSuccess,
		"token_len", len(result.AccessToken),
	)
	httputil.JSON(w, http.StatusOK, api.VerifyCookieResponse{Success: true, CookieVerification: *result})
}
