package carriersim

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// GraphQL operations recorded by Calls.
const (
	OpMemberProfile    = "getMemberProfileAndSim"
	OpReserveESim      = "reserveESim"
	OpSwapSim          = "swapSim"
	OpDownloadToken    = "eSimDownloadToken"
	OpSimSwapChallenge = "simSwapMfaChallenge"
)

var operations = []struct {
	op      string
	pattern *regexp.Regexp
}{
	{OpReserveESim, regexp.MustCompile(`(?i)\breserveESim\b`)},
	{OpSwapSim, regexp.MustCompile(`(?i)\bswapSim\b`)},
	{OpDownloadToken, regexp.MustCompile(`(?i)\beSimDownloadToken\b`)},
	{OpSimSwapChallenge, regexp.MustCompile(`(?i)\bsimSwapMfaChallenge\b`)},
	{OpMemberProfile, regexp.MustCompile(`(?i)\bmemberProfile\b|getMemberProfileAndSim`)},
}

func operationOf(name, query string) string {
	for _, o := range operations {
		if o.pattern.MatchString(name) {
			return o.op
		}
	}
	for _, o := range operations {
		if o.pattern.MatchString(query) {
			return o.op
		}
	}
	return ""
}

// sensitive operations require the app's device identity headers.
var sensitive = map[string]bool{
	OpReserveESim:      true,
	OpSwapSim:          true,
	OpDownloadToken:    true,
	OpSimSwapChallenge: true,
}

type gqlRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

func gqlData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func gqlError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   nil,
		"errors": []map[string]any{{"message": msg}},
	})
}

func (s *Sim) graphql(w http.ResponseWriter, r *http.Request) {
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []map[string]string{{"message": "malformed request"}}})
		return
	}
	op := operationOf(req.OperationName, req.Query)
	s.record(op, r)

	member, ok := s.bearerMember(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errors": []map[string]any{{"message": "invalid_token", "extensions": map[string]string{"code": "UNAUTHENTICATED"}}},
		})
		return
	}
	if sensitive[op] && (r.Header.Get("X-Device-Model") == "" || r.Header.Get("X-Request-Id") == "") {
		gqlError(w, "device identity required")
		return
	}

	switch op {
	case OpMemberProfile:
		gqlData(w, map[string]any{
			"memberProfile": map[string]string{"id": member, "memberName": s.cfg.Member.Name},
			"sim":           map[string]string{"phoneNumber": s.cfg.Member.PhoneNumber, "status": "ACTIVE"},
		})
	case OpReserveESim:
		s.reserveESim(w, r, member, req)
	case OpSwapSim:
		s.swapSim(w, req)
	case OpDownloadToken:
		s.downloadToken(w, req)
	case OpSimSwapChallenge:
		channel, _ := req.Variables["channel"].(string)
		if channel == "" {
			channel = "TEXT"
		}
		gqlData(w, map[string]any{
			"simSwapMfaChallenge": map[string]any{"ref": s.newChallenge("swap"), "methods": []string{channel}},
		})
	default:
		gqlError(w, "unknown operation")
	}
}

func (s *Sim) reserveESim(w http.ResponseWriter, r *http.Request, member string, req gqlRequest) {
	sig := r.Header.Get("X-Mfa-Signature")
	s.mu.Lock()
	_, signed := s.signatures[sig]
	s.mu.Unlock()
	if !signed {
		gqlError(w, "mfa signature required")
		return
	}
	input, _ := req.Variables["input"].(map[string]any)
	if id, _ := input["memberId"].(string); id != member {
		gqlError(w, "member mismatch")
		return
	}

	s.mu.Lock()
	res := &reservation{ssn: s.nextSSN(), activationCode: "AC-" + uuid.NewString()[:8]}
	s.reservations[res.ssn] = res
	s.mu.Unlock()

	gqlData(w, map[string]any{
		"reserveESim": map[string]any{
			"id":       uuid.NewString(),
			"memberId": member,
			"status":   "RESERVED",
			"esim": map[string]string{
				"ssn":                res.ssn,
				"activationCode":     res.activationCode,
				"deliveryStatus":     "PENDING",
				"associatedMemberId": member,
			},
		},
	})
}

func (s *Sim) swapSim(w http.ResponseWriter, req gqlRequest) {
	ac, _ := req.Variables["activationCode"].(string)
	sig, _ := req.Variables["mfaSignature"].(string)
	ref, _ := req.Variables["mfaRef"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if boundRef, ok := s.signatures[sig]; !ok || boundRef != ref {
		gqlError(w, "mfa signature does not match the challenge")
		return
	}
	var res *reservation
	for _, candidate := range s.reservations {
		if candidate.activationCode == ac {
			res = candidate
		}
	}
	if res == nil {
		gqlError(w, "unknown activation code")
		return
	}
	if res.swappedSSN == "" {
		res.swappedSSN = s.nextSSN()
		s.polls[res.swappedSSN] = 0
	}

	gqlData(w, map[string]any{
		"swapSim": map[string]any{
			"old": map[string]string{"ssn": res.ssn, "activationCode": res.activationCode},
			"new": map[string]string{"ssn": res.swappedSSN, "activationCode": res.activationCode, "deliveryStatus": "DOWNLOADABLE"},
		},
	})
}

func (s *Sim) downloadToken(w http.ResponseWriter, req gqlRequest) {
	ssn, _ := req.Variables["ssn"].(string)

	s.mu.Lock()
	count, swapped := s.polls[ssn]
	if swapped {
		count++
		s.polls[ssn] = count
	}
	_, reserved := s.reservations[ssn]
	s.mu.Unlock()

	switch {
	case !swapped && reserved:
		gqlError(w, "profile is not active yet")
	case !swapped:
		gqlError(w, "unknown ssn")
	case count <= s.cfg.LPAAfterPolls:
		gqlData(w, map[string]any{"eSimDownloadToken": nil})
	default:
		matching := "MID-" + ssn
		gqlData(w, map[string]any{
			"eSimDownloadToken": map[string]string{
				"id":         uuid.NewString(),
				"host":       "https://smdp.sim.example",
				"matchingId": matching,
				"lpaString":  "LPA:1$smdp.sim.example$" + matching,
			},
		})
	}
}
