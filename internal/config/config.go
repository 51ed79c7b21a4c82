package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/esimkit/pkg/carrier"
)

// Config holds BFF configuration.
type Config struct {
	// Server
	ServerAddr    string
	ServerPort    int
	AllowedOrigin string
	AccessKey     string

	// AllowOpenAccess serves the BFF without an access key. Local development only.
	AllowOpenAccess bool

	// Carrier
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	APIBaseURL      string
	IDBaseURL       string
	WebBaseURL      string
	UpstreamTimeout time.Duration
	Device          carrier.DeviceIdentity

	// LPA polling
	LPASettleDelay  time.Duration
	LPAPollInterval time.Duration
	LPADeadline     time.Duration

	// Captcha
	CaptchaSiteKeys  map[string]string
	CaptchaSecret    string
	CaptchaVerifyURL string

	// Shared cache (optional)
	RedisURL string

	// Logging
	LogLevel  string
	LogFormat string

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
}

// RateLimitConfig holds per-IP limits for the endpoint groups.
type RateLimitConfig struct {
	Enabled bool
	// TrustProxy keys limits by forwarded client IP headers.
	TrustProxy bool

	VerifyCookieRequests int
	VerifyCookieWindow   time.Duration

	MFARequests int
	MFAWindow   time.Duration

	DefaultRequests int
	DefaultWindow   time.Duration
}

// SecurityHeadersConfig holds response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// ValidationConfig holds request validation limits.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	device := carrier.DefaultDeviceIdentity()
	cfg := &Config{
		ServerAddr:    getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:    getEnvInt("SERVER_PORT", 8080),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:5173"),
		AccessKey:     getEnv("ACCESS_KEY", ""),

		AllowOpenAccess: getEnvBool("ALLOW_OPEN_ACCESS", false),

		ClientID:        getEnv("GIFFGAFF_CLIENT_ID", "esim-web"),
		ClientSecret:    getEnv("GIFFGAFF_CLIENT_SECRET", ""),
		RedirectURI:     getEnv("GIFFGAFF_REDIRECT_URI", "giffgaff://auth/callback/"),
		APIBaseURL:      getEnv("GIFFGAFF_API_BASE_URL", "https://publicapi.giffgaff.com"),
		IDBaseURL:       getEnv("GIFFGAFF_ID_BASE_URL", "https://id.giffgaff.com"),
		WebBaseURL:      getEnv("GIFFGAFF_WEB_BASE_URL", "https://www.giffgaff.com"),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 20*time.Second),
		Device: carrier.DeviceIdentity{
			Manufacturer: getEnv("DEVICE_MANUFACTURER", device.Manufacturer),
			Model:        getEnv("DEVICE_MODEL", device.Model),
			OS:           getEnv("DEVICE_OS", device.OS),
			OSVersion:    getEnv("DEVICE_OS_VERSION", device.OSVersion),
			AppVersion:   getEnv("APP_VERSION", device.AppVersion),
			AppBuild:     getEnv("APP_BUILD", device.AppBuild),
			Baggage:      getEnv("DEVICE_BAGGAGE", device.Baggage),
		},

		LPASettleDelay:  getEnvDuration("LPA_SETTLE_DELAY", 5*time.Second),
		LPAPollInterval: getEnvDuration("LPA_POLL_INTERVAL", 4*time.Second),
		LPADeadline:     getEnvDuration("LPA_DEADLINE", 120*time.Second),

		CaptchaSiteKeys: map[string]string{
			"giffgaff": getEnv("CAPTCHA_SITE_KEY_GIFFGAFF", ""),
			"simyo":    getEnv("CAPTCHA_SITE_KEY_SIMYO", ""),
		},
		CaptchaSecret:    getEnv("CAPTCHA_SECRET", ""),
		CaptchaVerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),

		RedisURL: getEnv("REDIS_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		RateLimit: RateLimitConfig{
			Enabled:              getEnvBool("RATE_LIMIT_ENABLED", true),
			TrustProxy:           getEnvBool("TRUST_PROXY_HEADERS", false),
			VerifyCookieRequests: getEnvInt("VERIFY_COOKIE_REQUESTS", 10),
			VerifyCookieWindow:   getEnvDuration("VERIFY_COOKIE_WINDOW", time.Minute),
			MFARequests:          getEnvInt("MFA_REQUESTS", 20),
			MFAWindow:            getEnvDuration("MFA_WINDOW", 10*time.Minute),
			DefaultRequests:      getEnvInt("DEFAULT_REQUESTS", 120),
			DefaultWindow:        getEnvDuration("DEFAULT_WINDOW", time.Minute),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=()"),
		},
		Validation: ValidationConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),
		},
	}

	if cfg.AccessKey == "" && !cfg.AllowOpenAccess {
		return nil, fmt.Errorf("ACCESS_KEY is required (set ALLOW_OPEN_ACCESS=true for local development)")
	}
	if cfg.AllowedOrigin == "*" {
		return nil, fmt.Errorf("ALLOWED_ORIGIN must name a single origin, not *")
	}
	if cfg.LPAPollInterval <= 0 {
		return nil, fmt.Errorf("LPA_POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

// HasClientSecret returns true if the carrier token exchange can authenticate.
func (c *Config) HasClientSecret() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// CaptchaRequired returns true if token exchanges must carry a verified
// captcha token.
func (c *Config) CaptchaRequired() bool {
	return c.CaptchaSecret != ""
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
