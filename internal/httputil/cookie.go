package httputil

import (
	"net/http"
	"strings"
)

// CarrierCookieHeader lets non-browser clients pass the carrier session
// cookie as a header instead of a body field.
const CarrierCookieHeader = "X-Carrier-Cookie"

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
		return strings.TrimSpace(parts[1]), true
	}
	return "", false
}

// AccessToken returns the body token, falling back to the Authorization
// header.
func AccessToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	token, _ := BearerToken(r)
	return token
}

// CarrierCookie returns the body cookie, falling back to CarrierCookieHeader.
func CarrierCookie(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(CarrierCookieHeader)
}
