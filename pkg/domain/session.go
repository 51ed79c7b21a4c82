package domain

import (
	"time"
)

// Step is the UI resumption cursor. It is advisory only: operations check
// the fields they need, never the step.
type Step int

const (
	StepLogin      Step = 1
	StepMFA        Step = 2
	StepMemberInfo Step = 3
	StepActivate   Step = 4
	StepDownload   Step = 5
)

func (s Step) String() string {
	switch s {
	case StepLogin:
		return "login"
	case StepMFA:
		return "mfa"
	case StepMemberInfo:
		return "member-info"
	case StepActivate:
		return "reserve/activate"
	case StepDownload:
		return "download"
	}
	return "unknown"
}

// PendingLogin is one in-flight PKCE attempt.
type PendingLogin struct {
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionState is the client-owned provisioning state. It is persisted
// between runs and expires as a whole.
type SessionState struct {
	AccessToken string `json:"accessToken,omitempty"`
	Cookie      string `json:"cookie,omitempty"`

	// Last-saved PKCE pair, the fallback when a callback state is unknown.
	CodeVerifier  string                  `json:"codeVerifier,omitempty"`
	OAuthState    string                  `json:"state,omitempty"`
	PendingLogins map[string]PendingLogin `json:"pendingLogins,omitempty"`

	EmailCodeRef   string     `json:"emailCodeRef,omitempty"`
	MFAVia         MFAVia     `json:"mfaVia,omitempty"`
	EmailSignature string     `json:"emailSignature,omitempty"`
	SwapMFARef     string     `json:"swapMfaRef,omitempty"`
	MFAChannel     MFAChannel `json:"mfaChannel,omitempty"`

	MemberID    string `json:"memberId,omitempty"`
	MemberName  string `json:"memberName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`

	ESimSSN            string `json:"esimSSN,omitempty"`
	ESimActivationCode string `json:"esimActivationCode,omitempty"`
	ESimDeliveryStatus string `json:"esimDeliveryStatus,omitempty"`
	LPAString          string `json:"lpaString,omitempty"`

	// Activation codes already sent through the web auto-activation walk.
	ActivationAttempts map[string]time.Time `json:"activationAttempts,omitempty"`

	CurrentStep Step      `json:"currentStep"`
	SavedAt     time.Time `json:"savedAt"`
}

// NewSessionState returns the default (logged out) state.
func NewSessionState() SessionState {
	return SessionState{CurrentStep: StepLogin}
}

// HasCredentials reports whether either authorization path is available.
func (s *SessionState) HasCredentials() bool {
	return s.AccessToken != "" || s.Cookie != ""
}

// AdvanceTo moves the cursor forward, never backwards.
func (s *SessionState) AdvanceTo(step Step) {
	if step > s.CurrentStep {
		s.CurrentStep = step
	}
}

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	out := s
	if s.PendingLogins != nil {
		out.PendingLogins = make(map[string]PendingLogin, len(s.PendingLogins))
		for k, v := range s.PendingLogins {
			out.PendingLogins[k] = v
		}
	}
	if s.ActivationAttempts != nil {
		out.ActivationAttempts = make(map[string]time.Time, len(s.ActivationAttempts))
		for k, v := range s.ActivationAttempts {
			out.ActivationAttempts[k] = v
		}
	}
	return out
}
