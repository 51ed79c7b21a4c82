package carrier

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tendant/esimkit/pkg/domain"
	"golang.org/x/oauth2"
)

// Token is the result of an authorization code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

// ExchangeCode trades an authorization code and its PKCE verifier for an
// access token. The client secret is sent as HTTP Basic auth.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*Token, error) {
	if code == "" {
		return nil, domain.NewValidationError("code", domain.ErrMissingCode)
	}
	if verifier == "" {
		return nil, domain.NewValidationError("codeVerifier", domain.ErrMissingVerifier)
	}

	conf := *c.oauth
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := conf.Exchange(ctx, code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("client_id", conf.ClientID),
	)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			status := retrieveErr.Response.StatusCode
			if status == http.StatusUnauthorized {
				return nil, &domain.AuthError{Status: status, Err: errors.New("token exchange rejected: " + truncate(retrieveErr.Body))}
			}
			return nil, &domain.UpstreamError{Op: "token exchange", Status: status, Body: truncate(retrieveErr.Body)}
		}
		return nil, c.transportError(ctx, "token exchange", err)
	}

	out := &Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if tok.ExpiresIn > 0 {
		out.ExpiresIn = tok.ExpiresIn
	} else if !tok.Expiry.IsZero() {
		// oauth2 stamps Expiry from the wall clock.
		out.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	return out, nil
}
