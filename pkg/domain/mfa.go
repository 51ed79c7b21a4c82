package domain

import (
	"regexp"
	"strings"
)

// MFAChannel is how the carrier delivers a one-time code.
type MFAChannel string

const (
	MFAChannelEmail MFAChannel = "EMAIL"
	MFAChannelText  MFAChannel = "TEXT"
)

// ParseMFAChannel accepts EMAIL/TEXT (and SMS as an alias for TEXT).
func ParseMFAChannel(s string) (MFAChannel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "EMAIL":
		return MFAChannelEmail, nil
	case "TEXT", "SMS":
		return MFAChannelText, nil
	}
	return "", NewValidationError("channel", ErrInvalidChannel)
}

// WebMethod is the lower-case method name used by the cookie-backed web channel.
func (c MFAChannel) WebMethod() string {
	if c == MFAChannelText {
		return "text"
	}
	return "email"
}

// MFAVia records which upstream variant issued a challenge, so the code
// is redeemed against the same one.
type MFAVia string

const (
	MFAViaWeb MFAVia = "web"
	MFAViaApp MFAVia = "app"
)

var mfaCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidateMFACode checks the one-time code format.
func ValidateMFACode(code string) error {
	if !mfaCodePattern.MatchString(code) {
		return NewValidationError("code", ErrInvalidCodeFormat)
	}
	return nil
}

// MFAChallenge is the result of requesting a one-time code.
type MFAChallenge struct {
	Ref     string     `json:"ref"`
	Via     MFAVia     `json:"via"`
	Channel MFAChannel `json:"channel,omitempty"`
}
