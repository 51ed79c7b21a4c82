// Package httputil holds the BFF's JSON envelopes and request helpers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
)

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes the error envelope with a code derived from status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, api.ErrorResponse{Error: codeForStatus(status), Message: message})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return api.CodeValidation
	case http.StatusUnauthorized:
		return api.CodeUnauthorized
	case http.StatusForbidden:
		return api.CodeForbidden
	case http.StatusTooManyRequests:
		return api.CodeRateLimited
	case http.StatusRequestEntityTooLarge:
		return api.CodeTooLarge
	case http.StatusGatewayTimeout:
		return api.CodeTimeout
	case http.StatusBadGateway:
		return api.CodeUpstream
	}
	return api.CodeInternal
}

// WriteError maps a domain error onto a status and envelope. Every envelope
// carries the action the user should take.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, body := Classify(err)
	if status >= 500 && logger != nil {
		logger.Error("request failed", "status", status, "code", body.Error, "error", err)
	}
	JSON(w, status, body)
}

// Classify returns the status and envelope for err.
func Classify(err error) (int, api.ErrorResponse) {
	var (
		validationErr *domain.ValidationError
		authErr       *domain.AuthError
		expiredErr    *domain.TokenExpiredError
		lpaErr        *domain.LpaTimeoutError
		timeoutErr    *domain.TimeoutError
		upstreamErr   *domain.UpstreamError
	)
	body := api.ErrorResponse{Action: domain.ActionFor(err)}

	switch {
	case errors.As(err, &validationErr):
		body.Error = api.CodeValidation
		body.Message = validationErr.Error()
		return http.StatusBadRequest, body

	case errors.As(err, &authErr):
		status := authErr.Status
		if status != http.StatusForbidden {
			status = http.StatusUnauthorized
		}
		switch {
		case authErr.NeedReLogin:
			body.Error = api.CodeTokenExpired
			body.NeedReLogin = true
		case status == http.StatusForbidden:
			body.Error = api.CodeForbidden
		default:
			body.Error = api.CodeUnauthorized
		}
		body.Message = Sanitize(authErr.Error())
		return status, body

	case errors.As(err, &expiredErr):
		body.Error = api.CodeTokenExpired
		body.NeedReLogin = true
		body.Message = "session expired, log in again"
		return http.StatusUnauthorized, body

	case errors.As(err, &lpaErr):
		body.Error = api.CodeLpaTimeout
		body.Message = lpaErr.Error()
		return http.StatusGatewayTimeout, body

	case errors.As(err, &timeoutErr):
		body.Error = api.CodeTimeout
		body.Message = timeoutErr.Error()
		return http.StatusGatewayTimeout, body

	case errors.As(err, &upstreamErr):
		body.Error = api.CodeUpstream
		body.Message = Sanitize(upstreamErr.Error())
		body.UpstreamStatus = upstreamErr.Status
		if upstreamErr.Status >= 400 && upstreamErr.Status < 500 && upstreamErr.Status != http.StatusUnauthorized {
			return upstreamErr.Status, body
		}
		return http.StatusBadGateway, body

	case errors.Is(err, ErrRequestTooLarge):
		body.Error = api.CodeTooLarge
		body.Message = err.Error()
		body.Action = domain.ActionFixInput
		return http.StatusRequestEntityTooLarge, body

	case errors.Is(err, context.Canceled):
		body.Error = api.CodeInternal
		body.Message = "request cancelled"
		return http.StatusServiceUnavailable, body
	}

	body.Error = api.CodeInternal
	body.Message = "internal error"
	return http.StatusInternalServerError, body
}
