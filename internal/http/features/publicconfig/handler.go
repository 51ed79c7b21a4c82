package publicconfig

import (
	"net/http"

	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
)

// Handler serves the configuration a browser needs before it holds the
// access key.
type Handler struct {
	resp api.PublicConfigResponse
}

// NewHandler creates a new public config handler. Providers without a site
// key are omitted.
func NewHandler(allowedOrigin string, siteKeys map[string]string, captchaRequired bool) *Handler {
	keys := make(map[string]string, len(siteKeys))
	for provider, key := range siteKeys {
		if key != "" {
			keys[provider] = key
		}
	}
	return &Handler{resp: api.PublicConfigResponse{
		Success:         true,
		AllowedOrigin:   allowedOrigin,
		CaptchaSiteKeys: keys,
		CaptchaRequired: captchaRequired,
	}}
}

// Get handles GET /api/public-config
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.resp)
}
