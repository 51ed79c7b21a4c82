package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tendant/esimkit/pkg/domain"
)

// GraphQL operations used by the provisioning flow.
const (
	QueryMemberProfile = `query getMemberProfileAndSim {
  memberProfile { id memberName }
  sim { phoneNumber status }
}`

	MutationReserveESim = `mutation reserveESim($input: ESimReservationInput!) {
  reserveESim(input: $input) {
    id
    memberId
    status
    esim { ssn activationCode deliveryStatus associatedMemberId }
  }
}`

	MutationSwapSim = `mutation SwapSim($activationCode: String!, $mfaSignature: String!, $mfaRef: String!) {
  swapSim(activationCode: $activationCode, mfaSignature: $mfaSignature, mfaRef: $mfaRef) {
    old { ssn activationCode }
    new { ssn activationCode deliveryStatus }
  }
}`

	QueryESimDownloadToken = `query eSimDownloadToken($ssn: String!) {
  eSimDownloadToken(ssn: $ssn) { id host matchingId lpaString }
}`

	MutationSimSwapMFAChallenge = `mutation simSwapMfaChallenge($channel: MfaChannel) {
  simSwapMfaChallenge(channel: $channel) { ref methods }
}`
)

// GraphQLRequest is a standard GraphQL POST body.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLResponse is a decoded GraphQL answer.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// Err converts GraphQL-level errors into an UpstreamError.
func (r *GraphQLResponse) Err(op string) error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return &domain.UpstreamError{Op: op, Status: http.StatusBadGateway, Body: strings.Join(msgs, "; ")}
}

// RawGraphQL is an upstream GraphQL answer passed through unmodified.
type RawGraphQL struct {
	Status int
	Body   []byte
}

// RawGraphQL forwards req to the gateway. Operations in the capability
// table get the device identity block; mfaSignature, when present, is
// attached under both header spellings. Non-2xx answers other than expiry
// are returned, not converted, so a proxy can pass them through.
func (c *Client) RawGraphQL(ctx context.Context, token string, req GraphQLRequest, mfaSignature string) (*RawGraphQL, error) {
	if token == "" {
		return nil, domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewValidationError("query", domain.ErrInvalidRequest)
	}

	headers := bearer(token)
	if capability, ok := LookupCapability(req.OperationName, req.Query); ok && capability.DeviceIdentity {
		for k, v := range c.cfg.Device.Headers() {
			headers[k] = v
		}
	}
	setMFASignature(headers, mfaSignature)

	op := "graphql"
	if req.OperationName != "" {
		op = "graphql " + req.OperationName
	}
	resp, err := c.send(ctx, request{
		op:      op,
		method:  http.MethodPost,
		url:     c.apiURL("/gateway/graphql"),
		body:    req,
		headers: headers,
	})
	if err != nil {
		return nil, err
	}
	if resp.status < 500 && IsExpiredResponse(resp.status, resp.body) {
		return nil, &domain.TokenExpiredError{Op: op, Status: resp.status, Body: truncate(resp.body)}
	}
	return &RawGraphQL{Status: resp.status, Body: resp.body}, nil
}

// GraphQL runs req and decodes data into out. Any non-2xx answer or
// GraphQL error becomes an error.
func (c *Client) GraphQL(ctx context.Context, token string, req GraphQLRequest, mfaSignature string, out any) error {
	raw, err := c.RawGraphQL(ctx, token, req, mfaSignature)
	if err != nil {
		return err
	}
	op := "graphql " + req.OperationName
	if raw.Status < 200 || raw.Status >= 300 {
		return &domain.UpstreamError{Op: op, Status: raw.Status, Body: truncate(raw.Body)}
	}
	return DecodeGraphQL(op, raw.Body, out)
}

// DecodeGraphQL decodes a GraphQL body's data into out.
func DecodeGraphQL(op string, body []byte, out any) error {
	var resp GraphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if err := resp.Err(op); err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// MemberProfileData is the data of QueryMemberProfile.
type MemberProfileData struct {
	MemberProfile struct {
		ID         string `json:"id"`
		MemberName string `json:"memberName"`
	} `json:"memberProfile"`
	Sim struct {
		PhoneNumber string `json:"phoneNumber"`
		Status      string `json:"status"`
	} `json:"sim"`
}

// Member converts the profile data to the domain type.
func (d MemberProfileData) Member() domain.MemberInfo {
	return domain.MemberInfo{
		ID:          d.MemberProfile.ID,
		Name:        d.MemberProfile.MemberName,
		PhoneNumber: d.Sim.PhoneNumber,
	}
}

// ReserveESimData is the data of MutationReserveESim.
type ReserveESimData struct {
	ReserveESim struct {
		ID       string `json:"id"`
		MemberID string `json:"memberId"`
		Status   string `json:"status"`
		ESim     struct {
			SSN            string `json:"ssn"`
			ActivationCode string `json:"activationCode"`
			DeliveryStatus string `json:"deliveryStatus"`
		} `json:"esim"`
	} `json:"reserveESim"`
}

// ESim converts the reservation to the domain type.
func (d ReserveESimData) ESim() domain.ESim {
	e := d.ReserveESim.ESim
	return domain.ESim{SSN: e.SSN, ActivationCode: e.ActivationCode, DeliveryStatus: e.DeliveryStatus}
}

// SwapSimData is the data of MutationSwapSim.
type SwapSimData struct {
	SwapSim struct {
		Old struct {
			SSN            string `json:"ssn"`
			ActivationCode string `json:"activationCode"`
		} `json:"old"`
		New struct {
			SSN            string `json:"ssn"`
			ActivationCode string `json:"activationCode"`
			DeliveryStatus string `json:"deliveryStatus"`
		} `json:"new"`
	} `json:"swapSim"`
}

// ESim returns the newly active profile.
func (d SwapSimData) ESim() domain.ESim {
	n := d.SwapSim.New
	return domain.ESim{SSN: n.SSN, ActivationCode: n.ActivationCode, DeliveryStatus: n.DeliveryStatus}
}

// DownloadTokenData is the data of QueryESimDownloadToken.
type DownloadTokenData struct {
	ESimDownloadToken *domain.DownloadToken `json:"eSimDownloadToken"`
}

// SimSwapChallengeData is the data of MutationSimSwapMFAChallenge.
type SimSwapChallengeData struct {
	SimSwapMfaChallenge struct {
		Ref     string   `json:"ref"`
		Methods []string `json:"methods"`
	} `json:"simSwapMfaChallenge"`
}

// Request builders keep variable names in one place.

func MemberProfileRequest() GraphQLRequest {
	return GraphQLRequest{Query: QueryMemberProfile, OperationName: "getMemberProfileAndSim"}
}

func ReserveESimRequest(memberID string) GraphQLRequest {
	return GraphQLRequest{
		Query:         MutationReserveESim,
		OperationName: "reserveESim",
		Variables: map[string]any{
			"input": map[string]any{"memberId": memberID, "userIntent": "SWITCH"},
		},
	}
}

func SwapSimRequest(activationCode, mfaSignature, mfaRef string) GraphQLRequest {
	return GraphQLRequest{
		Query:         MutationSwapSim,
		OperationName: "SwapSim",
		Variables: map[string]any{
			"activationCode": activationCode,
			"mfaSignature":   mfaSignature,
			"mfaRef":         mfaRef,
		},
	}
}

func DownloadTokenRequest(ssn string) GraphQLRequest {
	return GraphQLRequest{
		Query:         QueryESimDownloadToken,
		OperationName: "eSimDownloadToken",
		Variables:     map[string]any{"ssn": ssn},
	}
}

func SimSwapChallengeRequest(channel domain.MFAChannel) GraphQLRequest {
	return GraphQLRequest{
		Query:         MutationSimSwapMFAChallenge,
		OperationName: "simSwapMfaChallenge",
		Variables:     map[string]any{"channel": string(channel)},
	}
}

// MemberProfile fetches the account behind token.
func (c *Client) MemberProfile(ctx context.Context, token, mfaSignature string) (domain.MemberInfo, error) {
	var data MemberProfileData
	if err := c.GraphQL(ctx, token, MemberProfileRequest(), mfaSignature, &data); err != nil {
		return domain.MemberInfo{}, err
	}
	return data.Member(), nil
}

// ReserveESim reserves a new eSIM profile for memberID.
func (c *Client) ReserveESim(ctx context.Context, token, mfaSignature, memberID string) (domain.ESim, error) {
	if memberID == "" {
		return domain.ESim{}, domain.NewValidationError("memberId", domain.ErrMissingMemberID)
	}
	if mfaSignature == "" {
		return domain.ESim{}, domain.NewValidationError("mfaSignature", domain.ErrMissingMFASignature)
	}
	var data ReserveESimData
	if err := c.GraphQL(ctx, token, ReserveESimRequest(memberID), mfaSignature, &data); err != nil {
		return domain.ESim{}, err
	}
	return data.ESim(), nil
}

// SwapSim makes the reserved profile active. mfaSignature must come from the
// swap challenge identified by mfaRef.
func (c *Client) SwapSim(ctx context.Context, token, activationCode, mfaSignature, mfaRef string) (domain.ESim, error) {
	if activationCode == "" {
		return domain.ESim{}, domain.NewValidationError("activationCode", domain.ErrMissingActivationCode)
	}
	if mfaSignature == "" {
		return domain.ESim{}, domain.NewValidationError("mfaSignature", domain.ErrMissingMFASignature)
	}
	if mfaRef == "" {
		return domain.ESim{}, domain.NewValidationError("mfaRef", domain.ErrMissingRef)
	}
	var data SwapSimData
	if err := c.GraphQL(ctx, token, SwapSimRequest(activationCode, mfaSignature, mfaRef), mfaSignature, &data); err != nil {
		return domain.ESim{}, err
	}
	return data.ESim(), nil
}

// DownloadToken reads the profile download string for ssn. An empty LPA
// means the profile is not ready yet.
func (c *Client) DownloadToken(ctx context.Context, token, ssn string) (domain.DownloadToken, error) {
	if ssn == "" {
		return domain.DownloadToken{}, domain.NewValidationError("ssn", domain.ErrMissingSSN)
	}
	var data DownloadTokenData
	if err := c.GraphQL(ctx, token, DownloadTokenRequest(ssn), "", &data); err != nil {
		return domain.DownloadToken{}, err
	}
	if data.ESimDownloadToken == nil {
		return domain.DownloadToken{}, nil
	}
	return *data.ESimDownloadToken, nil
}
