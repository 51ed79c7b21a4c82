package graphql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/domain"
)

// Gateway forwards GraphQL calls and refreshes tokens from a cookie.
type Gateway interface {
	carrier.Refresher
	RawGraphQL(ctx context.Context, token string, req carrier.GraphQLRequest, mfaSignature string) (*carrier.RawGraphQL, error)
}

// Handler proxies browser GraphQL traffic to the carrier gateway.
type Handler struct {
	logger  *slog.Logger
	gateway Gateway
}

// NewHandler creates a new GraphQL proxy handler.
func NewHandler(logger *slog.Logger, gateway Gateway) *Handler {
	return &Handler{
		logger:  logger,
		gateway: gateway,
	}
}

// Proxy handles POST /api/giffgaff-graphql
//
// The upstream answer is passed through with its status. When the token
// was refreshed from the cookie, the new one is returned in X-Access-Token.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = httputil.ErrRequestTooLarge
		}
		httputil.WriteError(w, h.logger, err)
		return
	}
	req, err := api.DecodeGraphQLProxyRequest(body)
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

	upstreamReq := carrier.GraphQLRequest{
		Query:         req.Query,
		Variables:     req.Variables,
		OperationName: req.OperationName,
	}
	raw, used, err := carrier.CallWithRefresh(r.Context(), h.gateway, token, cookie,
		func(ctx context.Context, tok string) (*carrier.RawGraphQL, error) {
			return h.gateway.RawGraphQL(ctx, tok, upstreamReq, req.MFASignature)
		})
	if err != nil {
		h.logger.Info("graphql proxy failed", "operation", req.OperationName, "error", err)
		httputil.WriteError(w, h.logger, err)
		return
	}

	if used != "" && used != token {
		w.Header().Set(api.HeaderAccessToken, used)
		h.logger.Info("graphql token refreshed from cookie", "operation", req.OperationName)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(raw.Status)
	_, _ = w.Write(raw.Body)
}
