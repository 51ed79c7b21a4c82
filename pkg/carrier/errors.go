package carrier

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/tendant/esimkit/pkg/domain"
)

var expiryMarkers = [][]byte{
	[]byte("invalid_token"),
	[]byte("UNAUTHENTICATED"),
}

// IsExpiredResponse reports whether an upstream answer means the bearer
// token or cookie expired: a 401, or a body carrying one of the carrier's
// expiry markers (GraphQL reports these with a 200).
func IsExpiredResponse(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	for _, m := range expiryMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

func checkStatus(req request, resp *response) error {
	if req.expiredOnRedirect && resp.status >= 300 && resp.status < 400 {
		return &domain.TokenExpiredError{Op: req.op, Status: http.StatusUnauthorized, Body: "redirected to login"}
	}
	if resp.status >= 200 && resp.status < 400 {
		return nil
	}
	if resp.status == http.StatusUnauthorized {
		return &domain.TokenExpiredError{Op: req.op, Status: resp.status, Body: truncate(resp.body)}
	}
	if resp.status < 500 && IsExpiredResponse(resp.status, resp.body) {
		return &domain.TokenExpiredError{Op: req.op, Status: resp.status, Body: truncate(resp.body)}
	}
	return &domain.UpstreamError{Op: req.op, Status: resp.status, Body: truncate(resp.body)}
}

// IsTokenExpired reports whether err should trigger a refresh.
func IsTokenExpired(err error) bool {
	var expired *domain.TokenExpiredError
	return errors.As(err, &expired)
}
