package http

import (
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/tendant/esimkit/internal/config"
	"github.com/tendant/esimkit/internal/http/features/activate"
	"github.com/tendant/esimkit/internal/http/features/cookie"
	"github.com/tendant/esimkit/internal/http/features/graphql"
	"github.com/tendant/esimkit/internal/http/features/mfa"
	"github.com/tendant/esimkit/internal/http/features/publicconfig"
	"github.com/tendant/esimkit/internal/http/features/token"
	"github.com/tendant/esimkit/internal/http/middleware"
	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/provision"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	Carrier         *carrier.Client
	Captcha         *token.CaptchaVerifier
	Clock           clock.Clock
	Poll            provision.Config
	AllowedOrigin   string
	AccessKey       string
	AllowOpenAccess bool
	CaptchaSiteKeys map[string]string
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
	// Ready reports readiness on /health. Nil means always ready.
	Ready func() bool
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.CORS(cfg.AllowedOrigin, cfg.Logger))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	r.Get(api.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	publicConfigHandler := publicconfig.NewHandler(cfg.AllowedOrigin, cfg.CaptchaSiteKeys, cfg.Captcha != nil)
	r.Get(api.PathPublicConfig, publicConfigHandler.Get)

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	cookieHandler := cookie.NewHandler(cfg.Logger, cfg.Carrier)
	tokenHandler := token.NewHandler(cfg.Logger, cfg.Carrier, cfg.Captcha)
	mfaHandler := mfa.NewHandler(cfg.Logger, cfg.Carrier)
	graphqlHandler := graphql.NewHandler(cfg.Logger, cfg.Carrier)
	activateHandler := activate.NewHandler(cfg.Logger, cfg.Carrier, cfg.Clock, cfg.Poll)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AccessKey(cfg.AccessKey, cfg.AllowOpenAccess, cfg.Logger))

		r.With(rateLimiters[middleware.LimitVerifyCookie]).Post(api.PathVerifyCookie, cookieHandler.Verify)

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitMFA])
			r.Post(api.PathMFAChallenge, mfaHandler.Challenge)
			r.Post(api.PathMFAValidation, mfaHandler.Validate)
			r.Post(api.PathSMSActivate, activateHandler.SMSActivate)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitDefault])
			r.Post(api.PathTokenExchange, tokenHandler.Exchange)
			r.Post(api.PathGraphQL, graphqlHandler.Proxy)
			r.Post(api.PathWebActivate, activateHandler.WebActivate)
		})
	})

	return r
}
