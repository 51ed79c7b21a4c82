// Package api defines the JSON contract between the BFF and its clients.
package api

import (
	"encoding/json"

	"github.com/tendant/esimkit/pkg/domain"
)

// Header names.
const (
	HeaderAccessKey   = "X-Esim-Key"
	HeaderAppKey      = "X-App-Key"
	HeaderAccessToken = "X-Access-Token"
)

// Routes.
const (
	PathHealth        = "/health"
	PathPublicConfig  = "/api/public-config"
	PathVerifyCookie  = "/api/verify-cookie"
	PathTokenExchange = "/api/giffgaff-token-exchange"
	PathMFAChallenge  = "/api/giffgaff-mfa-challenge"
	PathMFAValidation = "/api/giffgaff-mfa-validation"
	PathGraphQL       = "/api/giffgaff-graphql"
	PathSMSActivate   = "/api/giffgaff-sms-activate"
	PathWebActivate   = "/api/giffgaff-web-activate"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeValidation   = "validation_error"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeTokenExpired = "token_expired"
	CodeUpstream     = "upstream_error"
	CodeTimeout      = "timeout"
	CodeLpaTimeout   = "lpa_timeout"
	CodeRateLimited  = "rate_limited"
	CodeTooLarge     = "request_too_large"
	CodeInternal     = "internal_error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success        bool          `json:"success"`
	Error          string        `json:"error"`
	Message        string        `json:"message"`
	Action         domain.Action `json:"action,omitempty"`
	NeedReLogin    bool          `json:"needReLogin,omitempty"`
	UpstreamStatus int           `json:"upstreamStatus,omitempty"`
}

// AuthKeyField lets browser clients that cannot set headers send the access key.
type AuthKeyField struct {
	AuthKey string `json:"authKey,omitempty"`
}

type VerifyCookieRequest struct {
	AuthKeyField
	Cookie string `json:"cookie"`
}

type VerifyCookieResponse struct {
	Success bool `json:"success"`
	domain.CookieVerification
}

type TokenExchangeRequest struct {
	AuthKeyField
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
	RedirectURI  string `json:"redirectUri,omitempty"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type TokenExchangeResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

type MFAChallengeRequest struct {
	AuthKeyField
	AccessToken string `json:"accessToken,omitempty"`
	Cookie      string `json:"cookie,omitempty"`
	Channel     string `json:"channel"`
}

type MFAChallengeResponse struct {
	Success     bool          `json:"success"`
	Ref         string        `json:"ref"`
	Via         domain.MFAVia `json:"via"`
	AccessToken string        `json:"accessToken,omitempty"`
}

type MFAValidationRequest struct {
	AuthKeyField
	AccessToken string        `json:"accessToken,omitempty"`
	Cookie      string        `json:"cookie,omitempty"`
	Ref         string        `json:"ref"`
	Code        string        `json:"code"`
	Via         domain.MFAVia `json:"via,omitempty"`
}

type MFAValidationResponse struct {
	Success     bool   `json:"success"`
	Signature   string `json:"signature"`
	AccessToken string `json:"accessToken,omitempty"`
}

// GraphQLProxyRequest is one GraphQL call routed through the BFF.
type GraphQLProxyRequest struct {
	AuthKeyField
	AccessToken   string         `json:"accessToken,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	MFASignature  string         `json:"mfaSignature,omitempty"`
	Cookie        string         `json:"cookie,omitempty"`
}

// DecodeGraphQLProxyRequest accepts a single object or a one-element array.
func DecodeGraphQLProxyRequest(data []byte) (*GraphQLProxyRequest, error) {
	var batch []GraphQLProxyRequest
	if err := json.Unmarshal(data, &batch); err == nil {
		if len(batch) != 1 {
			return nil, domain.NewValidationError("body", domain.ErrInvalidRequest)
		}
		return &batch[0], nil
	}
	var single GraphQLProxyRequest
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, domain.NewValidationError("body", domain.ErrInvalidRequest)
	}
	return &single, nil
}

type SMSActivateRequest struct {
	AuthKeyField
	AccessToken    string `json:"accessToken"`
	Cookie         string `json:"cookie,omitempty"`
	Ref            string `json:"ref"`
	Code           string `json:"code"`
	EmailSignature string `json:"emailSignature,omitempty"`
	MemberID       string `json:"memberId,omitempty"`
}

type SMSActivateResponse struct {
	Success        bool   `json:"success"`
	SSN            string `json:"ssn"`
	ActivationCode string `json:"activationCode"`
	LPAString      string `json:"lpaString"`
	AccessToken    string `json:"accessToken,omitempty"`
}

type WebActivateRequest struct {
	AuthKeyField
	Cookie         string `json:"cookie"`
	ActivationCode string `json:"activationCode"`
}

type WebActivateResponse struct {
	Success bool     `json:"success"`
	Steps   []string `json:"steps"`
}

type PublicConfigResponse struct {
	Success         bool              `json:"success"`
	AllowedOrigin   string            `json:"allowedOrigin"`
	CaptchaSiteKeys map[string]string `json:"captchaSiteKeys"`
	CaptchaRequired bool              `json:"captchaRequired"`
}
