// Package carriersim is an in-process stand-in for the carrier: identity
// provider, web app, MFA endpoints, GraphQL gateway and activation pages.
// It backs end-to-end tests and the carrier-sim command.
package carriersim

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	tokenTTL   = time.Hour
)

// Member is the single account the simulator serves.
type Member struct {
	ID          string
	Name        string
	PhoneNumber string
}

// Config configures the simulator.
type Config struct {
	ClientID     string
	ClientSecret string

	// FixedCode, when set, is accepted by every MFA validation in addition
	// to the current TOTP code.
	FixedCode string
	// CookieToken replaces the token derived from a session cookie. A short
	// opaque value makes cookie verification a partial success.
	CookieToken string
	// LPAAfterPolls is how many download token reads return nothing before
	// the profile becomes ready.
	LPAAfterPolls int
	// SessionCookies are the gg_session values accepted as logged in.
	SessionCookies []string

	Member Member
	Clock  clock.Clock
	Logger *slog.Logger
}

// Call is one request the simulator served.
type Call struct {
	Op     string
	Header http.Header
}

type challenge struct {
	kind string
	used bool
}

type reservation struct {
	ssn            string
	activationCode string
	swappedSSN     string
}

// Sim is a fake carrier. It is safe for concurrent use.
type Sim struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	secret []byte
	otpKey *otp.Key

	mu           sync.Mutex
	tokens       map[string]string
	cookies      map[string]string
	csrf         map[string]bool
	authCodes    map[string]string
	challenges   map[string]*challenge
	signatures   map[string]string
	reservations map[string]*reservation
	polls        map[string]int
	activations  map[string]int
	seq          int
	calls        []Call
}

// New creates a simulator.
func New(cfg Config) (*Sim, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Member.ID == "" {
		cfg.Member = Member{ID: "member-0001", Name: "Test Member", PhoneNumber: "07700900123"}
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "carrier-sim",
		AccountName: cfg.Member.ID,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, fmt.Errorf("generate otp key: %w", err)
	}

	s := &Sim{
		cfg:          cfg,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		secret:       []byte(uuid.NewString()),
		otpKey:       key,
		tokens:       make(map[string]string),
		cookies:      make(map[string]string),
		csrf:         make(map[string]bool),
		authCodes:    make(map[string]string),
		challenges:   make(map[string]*challenge),
		signatures:   make(map[string]string),
		reservations: make(map[string]*reservation),
		polls:        make(map[string]int),
		activations:  make(map[string]int),
	}
	for _, c := range cfg.SessionCookies {
		s.cookies[c] = cfg.Member.ID
	}
	return s, nil
}

// CurrentCode returns the TOTP code valid right now.
func (s *Sim) CurrentCode() (string, error) {
	return totp.GenerateCode(s.otpKey.Secret(), s.clock.Now())
}

// AddSessionCookie registers a logged-in gg_session value.
func (s *Sim) AddSessionCookie(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[value] = s.cfg.Member.ID
}

// ExpireCookie logs a session cookie out.
func (s *Sim) ExpireCookie(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cookies, value)
}

// ExpireTokens invalidates every access token issued so far.
func (s *Sim) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// IssueToken mints a valid access token for the member.
func (s *Sim) IssueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked()
}

// Calls returns the requests served so far.
func (s *Sim) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the served requests for op.
func (s *Sim) CallsTo(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Activations returns how many times the web confirmation for code was
// posted.
func (s *Sim) Activations(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations[code]
}

func (s *Sim) record(op string, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Header: r.Header.Clone()})
}

// mintLocked signs a JWT-shaped access token. The scope claim keeps it well
// above the length clients use to tell tokens from session ids.
func (s *Sim) mintLocked() string {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"iss":   "carrier-sim",
		"sub":   s.cfg.Member.ID,
		"aud":   "giffgaff-app",
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
		"jti":   uuid.NewString(),
		"scope": "read:member read:sim write:esim read:esim write:mfa",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	s.tokens[signed] = s.cfg.Member.ID
	return signed
}

func (s *Sim) validCode(code string) bool {
	if s.cfg.FixedCode != "" && code == s.cfg.FixedCode {
		return true
	}
	ok, err := totp.ValidateCustom(code, s.otpKey.Secret(), s.clock.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// bearerMember returns the member behind the request's bearer token.
func (s *Sim) bearerMember(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.tokens[token]
	return member, ok
}

// cookieMember returns the member behind the request's gg_session cookie.
func (s *Sim) cookieMember(r *http.Request) (string, bool) {
	ck, err := r.Cookie("gg_session")
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.cookies[ck.Value]
	return member, ok
}

func (s *Sim) newChallenge(kind string) string {
	ref := "ref-" + uuid.NewString()
	s.mu.Lock()
	s.challenges[ref] = &challenge{kind: kind}
	s.mu.Unlock()
	return ref
}

// redeem validates code against ref once and returns a signature bound to
// ref.
func (s *Sim) redeem(ref, code string) (string, bool) {
	if !s.validCode(code) {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[ref]
	if !ok || ch.used {
		return "", false
	}
	ch.used = true
	sig := "sig-" + uuid.NewString()
	s.signatures[sig] = ref
	return sig, true
}

func (s *Sim) nextSSN() string {
	s.seq++
	return fmt.Sprintf("8944110000%010d", s.seq)
}
