package domain

import "strings"

// MemberInfo identifies the carrier account.
type MemberInfo struct {
	ID          string `json:"id"`
	Name        string `json:"memberName"`
	PhoneNumber string `json:"phoneNumber"`
}

// ESim identifies a reserved or swapped eSIM profile.
type ESim struct {
	SSN            string `json:"ssn"`
	ActivationCode string `json:"activationCode"`
	DeliveryStatus string `json:"deliveryStatus,omitempty"`
}

// DownloadToken carries the profile download string.
type DownloadToken struct {
	ID         string `json:"id,omitempty"`
	Host       string `json:"host,omitempty"`
	MatchingID string `json:"matchingId,omitempty"`
	LPAString  string `json:"lpaString"`
}

// LPA returns the download string, building one from host and matching id
// when the carrier left lpaString empty.
func (t DownloadToken) LPA() string {
	if t.LPAString != "" {
		return t.LPAString
	}
	if t.Host != "" && t.MatchingID != "" {
		return "LPA:1$" + strings.TrimPrefix(t.Host, "https://") + "$" + t.MatchingID
	}
	return ""
}

// CookieVerification is the outcome of probing a web session cookie.
type CookieVerification struct {
	Valid          bool   `json:"valid"`
	PartialSuccess bool   `json:"partialSuccess"`
	AccessToken    string `json:"accessToken,omitempty"`
	MemberID       string `json:"memberId,omitempty"`
	ExpiresAt      int64  `json:"expiresAt,omitempty"`
	Message        string `json:"message"`
}
