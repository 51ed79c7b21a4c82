package carriersim

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Operation names recorded by Calls.
const (
	OpAuthorize       = "authorize"
	OpToken           = "token"
	OpSessionToken    = "session-token"
	OpDashboard       = "dashboard"
	OpSecurityPage    = "security-page"
	OpWebChallenge    = "web-mfa-challenge"
	OpWebValidation   = "web-mfa-validation"
	OpAppChallenge    = "app-mfa-challenge"
	OpAppValidation   = "app-mfa-validation"
	OpActivate        = "activate"
	OpActivateConfirm = "activate-confirm"
)

// Handler returns the simulator's routes. The identity provider, web app and
// API share one host.
func (s *Sim) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/auth/oauth/authorize", s.authorize)
	r.Post("/auth/oauth/token", s.token)

	r.Get("/id/auth/session/token", s.sessionToken)
	r.Get("/dashboard", s.dashboard)
	r.Get("/profile/security", s.securityPage)
	r.Post("/mfa/challenge", s.webChallenge)
	r.Post("/mfa/validation", s.webValidation)

	r.Post("/activate/validate", s.activateValidate)
	r.Get("/activate", s.activatePage)
	r.Get("/activate/confirm", s.confirmPage)
	r.Post("/activate/confirm", s.confirm)

	r.Post("/v1/mfa/challenge", s.appChallenge)
	r.Post("/v1/mfa/validation", s.appValidation)
	r.Post("/gateway/graphql", s.graphql)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func invalidToken(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": "The access token expired",
	})
}

// authorize issues a code immediately and redirects back to the client.
func (s *Sim) authorize(w http.ResponseWriter, r *http.Request) {
	s.record(OpAuthorize, r)
	q := r.URL.Query()
	if q.Get("client_id") != s.cfg.ClientID || q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		http.Error(w, "invalid authorization request", http.StatusBadRequest)
		return
	}
	code := "code-" + uuid.NewString()
	s.mu.Lock()
	s.authCodes[code] = q.Get("code_challenge")
	s.mu.Unlock()

	target := q.Get("redirect_uri") + "?code=" + code + "&state=" + q.Get("state")
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Sim) token(w http.ResponseWriter, r *http.Request) {
	s.record(OpToken, r)
	id, secret, ok := r.BasicAuth()
	if !ok || id != s.cfg.ClientID || secret != s.cfg.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	code := r.PostForm.Get("code")

	s.mu.Lock()
	challenge, found := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()
	if !found || oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	s.mu.Lock()
	token := s.mintLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

// sessionToken derives an API token from the web session cookie.
func (s *Sim) sessionToken(w http.ResponseWriter, r *http.Request) {
	s.record(OpSessionToken, r)
	member, ok := s.cookieMember(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	s.mu.Lock()
	token := s.cfg.CookieToken
	if token == "" {
		token = s.mintLocked()
	} else {
		s.tokens[token] = member
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   int(tokenTTL.Seconds()),
		"member_id":    member,
	})
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html><head>
<title>{{.Title}}</title>
{{if .CSRF}}<meta name="csrf-token" content="{{.CSRF}}">{{end}}
{{if .MemberID}}<meta name="member-id" content="{{.MemberID}}">{{end}}
</head><body>
<h1>{{.Title}}</h1>
{{if .Form}}<form method="post" action="/activate/confirm">
<input type="hidden" name="_csrf" value="{{.CSRF}}">
<input type="hidden" name="code" value="{{.Code}}">
<button type="submit">Confirm</button>
</form>{{end}}
</body></html>`))

type pageData struct {
	Title    string
	CSRF     string
	MemberID string
	Code     string
	Form     bool
}

func renderPage(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pageTemplate.Execute(w, data)
}

func (s *Sim) dashboard(w http.ResponseWriter, r *http.Request) {
	s.record(OpDashboard, r)
	member, ok := s.cookieMember(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	renderPage(w, pageData{Title: "Dashboard", MemberID: member})
}

// issueCSRF sets a fresh XSRF-TOKEN cookie and returns its value.
func (s *Sim) issueCSRF(w http.ResponseWriter) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.csrf[token] = true
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: token, Path: "/"})
	return token
}

func (s *Sim) checkCSRF(r *http.Request) bool {
	token := r.Header.Get("X-XSRF-TOKEN")
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrf[token]
}

func (s *Sim) securityPage(w http.ResponseWriter, r *http.Request) {
	s.record(OpSecurityPage, r)
	if _, ok := s.cookieMember(r); !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	token := s.issueCSRF(w)
	renderPage(w, pageData{Title: "Security", CSRF: token})
}

func (s *Sim) webChallenge(w http.ResponseWriter, r *http.Request) {
	s.record(OpWebChallenge, r)
	if _, ok := s.cookieMember(r); !ok {
		invalidToken(w)
		return
	}
	if !s.checkCSRF(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "csrf_mismatch"})
		return
	}
	var body struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || (body.Method != "email" && body.Method != "text") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_method"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ref": s.newChallenge("web")})
}

func (s *Sim) webValidation(w http.ResponseWriter, r *http.Request) {
	s.record(OpWebValidation, r)
	if _, ok := s.cookieMember(r); !ok {
		invalidToken(w)
		return
	}
	if !s.checkCSRF(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "csrf_mismatch"})
		return
	}
	s.validate(w, r)
}

func (s *Sim) appChallenge(w http.ResponseWriter, r *http.Request) {
	s.record(OpAppChallenge, r)
	if _, ok := s.bearerMember(r); !ok {
		invalidToken(w)
		return
	}
	var body struct {
		Source            string   `json:"source"`
		PreferredChannels []string `json:"preferredChannels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.PreferredChannels) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ref": s.newChallenge("app")})
}

func (s *Sim) appValidation(w http.ResponseWriter, r *http.Request) {
	s.record(OpAppValidation, r)
	if _, ok := s.bearerMember(r); !ok {
		invalidToken(w)
		return
	}
	s.validate(w, r)
}

func (s *Sim) validate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref  string `json:"ref"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	sig, ok := s.redeem(body.Ref, body.Code)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_code", "message": "the code is wrong or expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

// knownActivationCode reports whether code belongs to a reserved profile.
func (s *Sim) knownActivationCode(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.reservations {
		if res.activationCode == code {
			return true
		}
	}
	return false
}

// sameSiteCSRF checks the double-submit pair: header equal to the cookie.
func sameSiteCSRF(r *http.Request) bool {
	ck, err := r.Cookie("XSRF-TOKEN")
	return err == nil && ck.Value != "" && r.Header.Get("X-XSRF-TOKEN") == ck.Value
}

func (s *Sim) activateValidate(w http.ResponseWriter, r *http.Request) {
	s.record(OpActivate, r)
	if _, ok := s.cookieMember(r); !ok {
		invalidToken(w)
		return
	}
	if !sameSiteCSRF(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "csrf_mismatch"})
		return
	}
	if err := r.ParseForm(); err != nil || !s.knownActivationCode(r.PostForm.Get("activationCode")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_activation_code"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Sim) activatePage(w http.ResponseWriter, r *http.Request) {
	s.record(OpActivate, r)
	if _, ok := s.cookieMember(r); !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	s.issueCSRF(w)
	renderPage(w, pageData{Title: "Activate your eSIM", Code: r.URL.Query().Get("code")})
}

func (s *Sim) confirmPage(w http.ResponseWriter, r *http.Request) {
	s.record(OpActivateConfirm, r)
	if _, ok := s.cookieMember(r); !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	token := s.issueCSRF(w)
	renderPage(w, pageData{Title: "Confirm activation", CSRF: token, Code: r.URL.Query().Get("code"), Form: true})
}

func (s *Sim) confirm(w http.ResponseWriter, r *http.Request) {
	s.record(OpActivateConfirm, r)
	if _, ok := s.cookieMember(r); !ok {
		invalidToken(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	formToken := r.PostForm.Get("_csrf")
	s.mu.Lock()
	valid := s.csrf[formToken]
	s.mu.Unlock()
	code := strings.TrimSpace(r.PostForm.Get("code"))
	if !valid || !sameSiteCSRF(r) {
		http.Error(w, "csrf mismatch", http.StatusForbidden)
		return
	}
	if !s.knownActivationCode(code) {
		http.Error(w, "unknown activation code", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	s.activations[code]++
	s.mu.Unlock()
	renderPage(w, pageData{Title: fmt.Sprintf("Activation of %s confirmed", code)})
}
