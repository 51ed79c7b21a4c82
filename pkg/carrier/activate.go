package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/tendant/esimkit/pkg/domain"
	"golang.org/x/net/publicsuffix"
)

// Activation walk step names, reported back to the caller in order.
const (
	StepValidateCode = "validate-code"
	StepViewActivate = "view-activation"
	StepViewConfirm  = "view-confirmation"
	StepConfirm      = "confirm"
)

// WebActivate walks the web app's activation confirmation flow with cookie:
// validate the code, open the activation page, open the confirmation page
// and post the confirmation. The XSRF token is re-read from the cookie jar
// after every response. It returns the steps completed.
//
// The upstream flow is not idempotent; callers must not repeat it for the
// same activation code.
func (c *Client) WebActivate(ctx context.Context, raw, activationCode string) ([]string, error) {
	cookie := NormalizeCookie(raw)
	if cookie == "" {
		return nil, domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}
	activationCode = strings.TrimSpace(activationCode)
	if activationCode == "" {
		return nil, domain.NewValidationError("activationCode", domain.ErrMissingActivationCode)
	}

	base, err := url.Parse(c.cfg.WebBaseURL)
	if err != nil {
		return nil, fmt.Errorf("web activation: parse base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("web activation: cookie jar: %w", err)
	}
	jar.SetCookies(base, parseCookieHeader(cookie))

	hc := *c.http
	hc.Jar = jar

	xsrf := func() string {
		for _, ck := range jar.Cookies(base) {
			if ck.Name == xsrfCookieName {
				return ck.Value
			}
		}
		return ""
	}
	if xsrf() == "" {
		token, err := c.csrfToken(ctx, cookie)
		if err != nil {
			return nil, err
		}
		jar.SetCookies(base, []*http.Cookie{{Name: xsrfCookieName, Value: token}})
	}

	var steps []string
	call := func(step, method, path, form string) (*response, error) {
		headers := http.Header{xsrfHeaderName: {xsrf()}, "Referer": {c.webURL("/activate")}}
		resp, err := c.do(ctx, request{
			op:                "web activation " + step,
			method:            method,
			url:               c.webURL(path),
			form:              form,
			headers:           headers,
			expiredOnRedirect: method == http.MethodGet,
			client:            &hc,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
		c.logger.Debug("web activation step completed", "step", step)
		return resp, nil
	}

	q := url.Values{"code": {activationCode}}
	if _, err := call(StepValidateCode, http.MethodPost, "/activate/validate", url.Values{"activationCode": {activationCode}}.Encode()); err != nil {
		return steps, err
	}
	if _, err := call(StepViewActivate, http.MethodGet, "/activate?"+q.Encode(), ""); err != nil {
		return steps, err
	}
	confirmPage, err := call(StepViewConfirm, http.MethodGet, "/activate/confirm?"+q.Encode(), "")
	if err != nil {
		return steps, err
	}

	formToken := ""
	if p, parseErr := parsePage(confirmPage.body); parseErr == nil {
		formToken = p.input("_csrf")
		if formToken == "" {
			formToken = p.meta("csrf-token")
		}
	}
	if formToken == "" {
		formToken = xsrf()
	}
	confirm := url.Values{"_csrf": {formToken}, "code": {activationCode}}
	if _, err := call(StepConfirm, http.MethodPost, "/activate/confirm", confirm.Encode()); err != nil {
		return steps, err
	}
	return steps, nil
}

func parseCookieHeader(cookie string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(cookie, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: k, Value: v})
	}
	return out
}
