package client

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/provision"
	"github.com/tendant/esimkit/pkg/session"
)

const (
	reservedSSN = "8944110000000000001"
	swappedSSN  = "8944110000000000002"
	testLPA     = "LPA:1$smdp.example.com$MATCH-0002"
)

// fakeCarrierOps answers the provisioning operations. The download token
// for swappedSSN becomes ready on readyAfter-th poll.
type fakeCarrierOps struct {
	mu         sync.Mutex
	readyAfter int
	polls      map[string]int
}

func (c *fakeCarrierOps) ops() map[string]func(api.GraphQLProxyRequest) (int, any) {
	data := func(v map[string]any) map[string]any { return map[string]any{"data": v} }
	return map[string]func(api.GraphQLProxyRequest) (int, any){
		"getMemberProfileAndSim": func(req api.GraphQLProxyRequest) (int, any) {
			return http.StatusOK, data(map[string]any{
				"memberProfile": map[string]any{"id": "member-7", "memberName": "Ada"},
				"sim":           map[string]any{"phoneNumber": "07700900123", "status": "ACTIVE"},
			})
		},
		"reserveESim": func(req api.GraphQLProxyRequest) (int, any) {
			return http.StatusOK, data(map[string]any{"reserveESim": map[string]any{
				"id": "res-1", "memberId": "member-7", "status": "RESERVED",
				"esim": map[string]any{"ssn": reservedSSN, "activationCode": "AC-RESERVED", "deliveryStatus": "RESERVED"},
			}})
		},
		"SwapSim": func(req api.GraphQLProxyRequest) (int, any) {
			return http.StatusOK, data(map[string]any{"swapSim": map[string]any{
				"old": map[string]any{"ssn": "8944110000000000000", "activationCode": "AC-OLD"},
				"new": map[string]any{"ssn": swappedSSN, "activationCode": "AC-NEW", "deliveryStatus": "PENDING"},
			}})
		},
		"eSimDownloadToken": func(req api.GraphQLProxyRequest) (int, any) {
			ssn, _ := req.Variables["ssn"].(string)
			c.mu.Lock()
			if c.polls == nil {
				c.polls = map[string]int{}
			}
			c.polls[ssn]++
			n := c.polls[ssn]
			c.mu.Unlock()
			if ssn != swappedSSN || n < c.readyAfter {
				return http.StatusOK, data(map[string]any{"eSimDownloadToken": nil})
			}
			return http.StatusOK, data(map[string]any{"eSimDownloadToken": map[string]any{
				"id": "tok-1", "host": "smdp.example.com", "matchingId": "MATCH-0002", "lpaString": testLPA,
			}})
		},
	}
}

func newService(t *testing.T, mock *clock.Mock) (*fakeBFF, *session.Store, *ESimService) {
	t.Helper()
	store := newStore(mock)
	fake, bff := newFakeBFF(t)
	mfa := NewMFAHandler(bff, store, nil)
	return fake, store, NewESimService(bff, store, mfa, provision.DefaultConfig(), nil)
}

func TestGetMemberInfo_FailsFastWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())

	_, err := svc.GetMemberInfo(ctx)
	assert.ErrorIs(t, err, domain.ErrMissingAccessToken)
	assert.Contains(t, err.Error(), "access token")

	seedToken(t, store, nil)
	_, err = svc.GetMemberInfo(ctx)
	assert.ErrorIs(t, err, domain.ErrMissingMFASignature)

	assert.Zero(t, fake.total())
}

func TestGetMemberInfo(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())
	fake.graphql((&fakeCarrierOps{}).ops())
	seedToken(t, store, func(s *domain.SessionState) { s.EmailSignature = "sig-email" })

	member, err := svc.GetMemberInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "member-7", member.ID)

	snap := store.Snapshot()
	assert.Equal(t, "member-7", snap.MemberID)
	assert.Equal(t, "Ada", snap.MemberName)
	assert.Equal(t, "07700900123", snap.PhoneNumber)
	assert.Equal(t, domain.StepActivate, snap.CurrentStep)

	reqs := fake.graphQLBodies(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, "sig-email", reqs[0].MFASignature)
}

func TestReserveThenSwap_UsesFreshSwapSignature(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())
	fake.graphql((&fakeCarrierOps{}).ops())
	seedToken(t, store, func(s *domain.SessionState) {
		s.EmailSignature = "sig-email"
		s.MemberID = "member-7"
	})

	reserved, err := svc.ReserveESim(ctx)
	require.NoError(t, err)
	assert.Equal(t, reservedSSN, reserved.SSN)
	assert.Equal(t, reservedSSN, store.Snapshot().ESimSSN)

	_, err = svc.SwapSim(ctx, reserved.ActivationCode, "", "swap-ref")
	assert.ErrorIs(t, err, domain.ErrMissingMFASignature)
	_, err = svc.SwapSim(ctx, reserved.ActivationCode, "sig-swap", "")
	assert.ErrorIs(t, err, domain.ErrMissingRef)

	swapped, err := svc.SwapSim(ctx, reserved.ActivationCode, "sig-swap", "swap-ref")
	require.NoError(t, err)
	assert.Equal(t, swappedSSN, swapped.SSN)

	reqs := fake.graphQLBodies(t)
	require.Len(t, reqs, 2)
	assert.Equal(t, "reserveESim", reqs[0].OperationName)
	assert.Equal(t, "sig-email", reqs[0].MFASignature)
	assert.Equal(t, "SwapSim", reqs[1].OperationName)
	assert.Equal(t, "sig-swap", reqs[1].MFASignature)
	assert.Equal(t, "sig-swap", reqs[1].Variables["mfaSignature"])
	assert.Equal(t, "swap-ref", reqs[1].Variables["mfaRef"])
	assert.Equal(t, "AC-RESERVED", reqs[1].Variables["activationCode"])

	snap := store.Snapshot()
	assert.Equal(t, swappedSSN, snap.ESimSSN)
	assert.Equal(t, "AC-NEW", snap.ESimActivationCode)
}

func TestGetESimDownloadToken_Idempotent(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())
	fake.graphql((&fakeCarrierOps{readyAfter: 1}).ops())
	seedToken(t, store, func(s *domain.SessionState) { s.ESimSSN = swappedSSN })

	first, err := svc.GetESimDownloadToken(ctx, swappedSSN)
	require.NoError(t, err)
	before := store.Snapshot()

	second, err := svc.GetESimDownloadToken(ctx, swappedSSN)
	require.NoError(t, err)

	assert.Equal(t, testLPA, first)
	assert.Equal(t, first, second)
	assert.Equal(t, before, store.Snapshot())
	assert.Equal(t, domain.StepDownload, before.CurrentStep)
}

func TestWaitAndGetLPA(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	fake, store, svc := newService(t, mock)
	fake.graphql((&fakeCarrierOps{readyAfter: 3}).ops())
	seedToken(t, store, nil)

	var lpa string
	elapsed, err := runDriven(t, mock, time.Second, 10*time.Minute, func() error {
		var err error
		lpa, err = svc.WaitAndGetLPA(ctx, swappedSSN, 10)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, testLPA, lpa)
	assert.Equal(t, testLPA, store.Snapshot().LPAString)
	assert.GreaterOrEqual(t, elapsed, provision.DefaultSettleDelay)
}

func TestWaitAndGetLPA_ExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	fake, store, svc := newService(t, mock)
	fake.graphql((&fakeCarrierOps{readyAfter: 1000}).ops())
	seedToken(t, store, nil)

	_, err := runDriven(t, mock, time.Second, 10*time.Minute, func() error {
		_, err := svc.WaitAndGetLPA(ctx, swappedSSN, 3)
		return err
	})
	var lpaErr *domain.LpaTimeoutError
	require.ErrorAs(t, err, &lpaErr)
	assert.Equal(t, domain.ActionWait, domain.ActionFor(err))
	assert.LessOrEqual(t, fake.count(api.PathGraphQL), 3)
}

func TestSMSActivateFlow(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	fake, store, svc := newService(t, mock)
	carrierOps := &fakeCarrierOps{readyAfter: 2}
	fake.graphql(carrierOps.ops())
	fake.handle(api.PathMFAValidation, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.MFAValidationResponse{Success: true, Signature: "sig-sms"})
	})
	seedToken(t, store, func(s *domain.SessionState) {
		s.SwapMFARef = "swap-ref"
		s.EmailCodeRef = "email-ref"
		s.EmailSignature = "sig-email"
		s.MemberID = "member-7"
	})

	var act *Activation
	elapsed, err := runDriven(t, mock, time.Second, 10*time.Minute, func() error {
		var err error
		act, err = svc.SMSActivateFlow(ctx, "123456")
		return err
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(act.LPAString, "LPA:"))
	assert.LessOrEqual(t, elapsed, provision.DefaultDeadline+provision.DefaultPollInterval)

	var validation api.MFAValidationRequest
	fake.lastBody(t, api.PathMFAValidation, &validation)
	assert.Equal(t, "swap-ref", validation.Ref)

	reqs := fake.graphQLBodies(t)
	require.GreaterOrEqual(t, len(reqs), 4)
	assert.Equal(t, "reserveESim", reqs[0].OperationName)
	assert.Equal(t, "sig-email", reqs[0].MFASignature)
	assert.Equal(t, "SwapSim", reqs[1].OperationName)
	assert.Equal(t, "sig-sms", reqs[1].MFASignature)
	assert.Equal(t, "swap-ref", reqs[1].Variables["mfaRef"])
	for _, r := range reqs[2:] {
		assert.Equal(t, "eSimDownloadToken", r.OperationName)
		assert.Equal(t, swappedSSN, r.Variables["ssn"])
	}

	f := fake
	f.mu.Lock()
	calls := append([]string(nil), f.calls...)
	f.mu.Unlock()
	assert.Equal(t, api.PathMFAValidation, calls[0])

	snap := store.Snapshot()
	assert.Equal(t, swappedSSN, snap.ESimSSN)
	assert.Equal(t, testLPA, snap.LPAString)
	assert.Equal(t, domain.StepDownload, snap.CurrentStep)
}

func TestSMSActivateFlow_StopsOnFailedValidation(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())
	fake.graphql((&fakeCarrierOps{}).ops())
	fake.handle(api.PathMFAValidation, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: api.CodeValidation, Message: "wrong code"})
	})
	seedToken(t, store, func(s *domain.SessionState) { s.EmailCodeRef = "email-ref"; s.MemberID = "member-7" })

	_, err := svc.SMSActivateFlow(ctx, "000000")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Zero(t, fake.count(api.PathGraphQL))

	_, err = svc.SMSActivateFlow(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrInvalidCodeFormat)
	assert.Equal(t, 1, fake.count(api.PathMFAValidation))
}

func TestSMSActivateViaServer(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())
	fake.handle(api.PathSMSActivate, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.SMSActivateResponse{Success: true, SSN: swappedSSN, ActivationCode: "AC-NEW", LPAString: testLPA, AccessToken: "token-9"})
	})
	seedToken(t, store, func(s *domain.SessionState) { s.EmailCodeRef = "email-ref"; s.EmailSignature = "sig-email" })

	act, err := svc.SMSActivateViaServer(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, testLPA, act.LPAString)

	var sent api.SMSActivateRequest
	fake.lastBody(t, api.PathSMSActivate, &sent)
	assert.Equal(t, "email-ref", sent.Ref)
	assert.Equal(t, "sig-email", sent.EmailSignature)

	snap := store.Snapshot()
	assert.Equal(t, "token-9", snap.AccessToken)
	assert.Equal(t, swappedSSN, snap.ESimSSN)
	assert.Equal(t, testLPA, snap.LPAString)
}

func TestAutoActivateESim_AtMostOncePerCode(t *testing.T) {
	ctx := context.Background()
	fake, store, svc := newService(t, clock.NewMock())
	fake.handle(api.PathWebActivate, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: api.CodeUpstream, Message: "confirm failed"})
	})

	_, err := svc.AutoActivateESim(ctx, "AC-1")
	assert.ErrorIs(t, err, domain.ErrMissingCookie)

	_, err = store.Update(ctx, func(s *domain.SessionState) error {
		s.Cookie = "gg_session=c"
		s.ESimActivationCode = "AC-1"
		return nil
	})
	require.NoError(t, err)

	_, err = svc.AutoActivateESim(ctx, "")
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)

	_, err = svc.AutoActivateESim(ctx, "AC-1")
	assert.ErrorIs(t, err, domain.ErrActivationAttempted)
	assert.Equal(t, 1, fake.count(api.PathWebActivate))

	fake.handle(api.PathWebActivate, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.WebActivateResponse{Success: true, Steps: []string{"validate-code", "view-activation", "view-confirmation", "confirm"}})
	})
	steps, err := svc.AutoActivateESim(ctx, "AC-2")
	require.NoError(t, err)
	assert.Len(t, steps, 4)
	assert.Equal(t, 2, fake.count(api.PathWebActivate))
}
