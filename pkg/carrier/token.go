package carrier

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minJWTLength is the shortest token treated as a usable API bearer token.
const minJWTLength = 200

// LooksLikeJWT reports whether token is shaped like a carrier API token.
// Shorter opaque values are web session identifiers the API rejects.
func LooksLikeJWT(token string) bool {
	return strings.Contains(token, ".") && len(token) > minJWTLength
}

// TokenExpiry reads the exp claim without verifying the signature. It
// returns the zero time for opaque tokens or tokens without exp.
func TokenExpiry(token string) time.Time {
	if !LooksLikeJWT(token) {
		return time.Time{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
