package client

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/provision"
	"github.com/tendant/esimkit/pkg/session"
)

// DefaultMaxRetries is the poll budget used by WaitAndGetLPA callers that
// do not pick one.
const DefaultMaxRetries = 10

// Activation is the result of a completed provisioning run.
type Activation struct {
	ESim      domain.ESim
	LPAString string
}

// ESimService drives member lookup, reservation, swap and profile download.
type ESimService struct {
	bff    *BFF
	store  *session.Store
	mfa    *MFAHandler
	poll   provision.Config
	logger *slog.Logger
}

// NewESimService creates the service. Poll timing comes from poll; its
// clock is the store's.
func NewESimService(bff *BFF, store *session.Store, mfa *MFAHandler, poll provision.Config, logger *slog.Logger) *ESimService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ESimService{bff: bff, store: store, mfa: mfa, poll: poll, logger: logger}
}

// GetMemberInfo loads the account behind the stored token. It needs both
// the token and the MFA signature and checks for them before any call.
func (s *ESimService) GetMemberInfo(ctx context.Context) (domain.MemberInfo, error) {
	snap := s.store.Snapshot()
	if snap.AccessToken == "" {
		return domain.MemberInfo{}, domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	if snap.EmailSignature == "" {
		return domain.MemberInfo{}, domain.NewValidationError("emailSignature", domain.ErrMissingMFASignature)
	}
	return s.fetchMember(ctx, snap.EmailSignature)
}

func (s *ESimService) fetchMember(ctx context.Context, signature string) (domain.MemberInfo, error) {
	var data carrier.MemberProfileData
	if err := graphQL(ctx, s.bff, s.store, carrier.MemberProfileRequest(), signature, &data); err != nil {
		return domain.MemberInfo{}, err
	}
	member := data.Member()
	if member.ID == "" {
		return domain.MemberInfo{}, &domain.UpstreamError{Op: "getMemberProfileAndSim", Status: 502, Body: "no member id returned"}
	}
	_, err := s.store.Update(ctx, func(st *domain.SessionState) error {
		st.MemberID = member.ID
		st.MemberName = member.Name
		st.PhoneNumber = member.PhoneNumber
		st.AdvanceTo(domain.StepActivate)
		return nil
	})
	if err != nil {
		return domain.MemberInfo{}, err
	}
	s.logger.Info("member info loaded")
	return member, nil
}

// ReserveESim reserves a new profile for the stored member using the email
// MFA signature.
func (s *ESimService) ReserveESim(ctx context.Context) (domain.ESim, error) {
	return s.reserve(ctx, s.store.Snapshot().EmailSignature)
}

func (s *ESimService) reserve(ctx context.Context, signature string) (domain.ESim, error) {
	snap := s.store.Snapshot()
	if snap.AccessToken == "" {
		return domain.ESim{}, domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	if snap.MemberID == "" {
		return domain.ESim{}, domain.NewValidationError("memberId", domain.ErrMissingMemberID)
	}
	if signature == "" {
		return domain.ESim{}, domain.NewValidationError("mfaSignature", domain.ErrMissingMFASignature)
	}

	var data carrier.ReserveESimData
	if err := graphQL(ctx, s.bff, s.store, carrier.ReserveESimRequest(snap.MemberID), signature, &data); err != nil {
		return domain.ESim{}, err
	}
	esim := data.ESim()
	if esim.SSN == "" || esim.ActivationCode == "" {
		return domain.ESim{}, &domain.UpstreamError{Op: "reserveESim", Status: 502, Body: "reservation incomplete"}
	}
	if err := s.storeESim(ctx, esim); err != nil {
		return domain.ESim{}, err
	}
	s.logger.Info("esim reserved", "delivery_status", esim.DeliveryStatus)
	return esim, nil
}

// SwapSim activates the reserved profile. mfaSignature must come from a
// fresh swap challenge (mfaRef), not the email signature used to reserve.
func (s *ESimService) SwapSim(ctx context.Context, activationCode, mfaSignature, mfaRef string) (domain.ESim, error) {
	if activationCode == "" {
		return domain.ESim{}, domain.NewValidationError("activationCode", domain.ErrMissingActivationCode)
	}
	if mfaSignature == "" {
		return domain.ESim{}, domain.NewValidationError("mfaSignature", domain.ErrMissingMFASignature)
	}
	if mfaRef == "" {
		return domain.ESim{}, domain.NewValidationError("mfaRef", domain.ErrMissingRef)
	}

	var data carrier.SwapSimData
	req := carrier.SwapSimRequest(activationCode, mfaSignature, mfaRef)
	if err := graphQL(ctx, s.bff, s.store, req, mfaSignature, &data); err != nil {
		return domain.ESim{}, err
	}
	esim := data.ESim()
	if esim.SSN == "" {
		return domain.ESim{}, &domain.UpstreamError{Op: "SwapSim", Status: 502, Body: "swap returned no profile"}
	}
	if esim.ActivationCode == "" {
		esim.ActivationCode = activationCode
	}
	if err := s.storeESim(ctx, esim); err != nil {
		return domain.ESim{}, err
	}
	s.logger.Info("sim swapped")
	return esim, nil
}

func (s *ESimService) storeESim(ctx context.Context, esim domain.ESim) error {
	_, err := s.store.Update(ctx, func(st *domain.SessionState) error {
		if st.ESimSSN != esim.SSN {
			st.LPAString = ""
		}
		st.ESimSSN = esim.SSN
		st.ESimActivationCode = esim.ActivationCode
		st.ESimDeliveryStatus = esim.DeliveryStatus
		st.AdvanceTo(domain.StepActivate)
		return nil
	})
	return err
}

// GetESimDownloadToken reads the download string for ssn once. An empty
// result means not ready yet. A repeated read of an unchanged string leaves
// the stored state untouched.
func (s *ESimService) GetESimDownloadToken(ctx context.Context, ssn string) (string, error) {
	if ssn == "" {
		return "", domain.NewValidationError("ssn", domain.ErrMissingSSN)
	}
	var data carrier.DownloadTokenData
	if err := graphQL(ctx, s.bff, s.store, carrier.DownloadTokenRequest(ssn), "", &data); err != nil {
		return "", err
	}
	if data.ESimDownloadToken == nil {
		return "", nil
	}
	lpa := data.ESimDownloadToken.LPA()
	if lpa == "" {
		return "", nil
	}

	snap := s.store.Snapshot()
	if snap.LPAString == lpa && snap.CurrentStep >= domain.StepDownload {
		return lpa, nil
	}
	_, err := s.store.Update(ctx, func(st *domain.SessionState) error {
		st.LPAString = lpa
		st.AdvanceTo(domain.StepDownload)
		return nil
	})
	if err != nil {
		return "", err
	}
	return lpa, nil
}

// WaitAndGetLPA polls for the download string of ssn with a budget of
// maxRetries attempts, expressed as the equivalent deadline.
func (s *ESimService) WaitAndGetLPA(ctx context.Context, ssn string, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return s.wait(ctx, ssn, s.poll.WithRetries(maxRetries))
}

func (s *ESimService) wait(ctx context.Context, ssn string, cfg provision.Config) (string, error) {
	poller := provision.NewPoller(s.store.Clock(), cfg, s.logger)
	return poller.Wait(ctx, ssn, func(ctx context.Context) (string, error) {
		return s.GetESimDownloadToken(ctx, ssn)
	})
}

// SMSActivateFlow is the full sequence after an SMS code arrives: validate
// the code, reserve, swap with the code's signature and poll the new
// profile. Each step starts only after the previous one succeeded.
func (s *ESimService) SMSActivateFlow(ctx context.Context, code string) (*Activation, error) {
	if err := domain.ValidateMFACode(code); err != nil {
		return nil, err
	}
	snap := s.store.Snapshot()
	if snap.AccessToken == "" {
		return nil, domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	ref := snap.SwapMFARef
	if ref == "" {
		ref = snap.EmailCodeRef
	}
	if ref == "" {
		return nil, domain.NewValidationError("ref", domain.ErrMissingRef)
	}

	smsSignature, err := s.mfa.validate(ctx, snap, ref, code, snap.MFAVia)
	if err != nil {
		return nil, err
	}

	reserveSignature := snap.EmailSignature
	if reserveSignature == "" {
		reserveSignature = smsSignature
	}
	if snap.MemberID == "" {
		if _, err := s.fetchMember(ctx, reserveSignature); err != nil {
			return nil, err
		}
	}
	reserved, err := s.reserve(ctx, reserveSignature)
	if err != nil {
		return nil, err
	}
	swapped, err := s.SwapSim(ctx, reserved.ActivationCode, smsSignature, ref)
	if err != nil {
		return nil, err
	}
	lpa, err := s.wait(ctx, swapped.SSN, s.poll)
	if err != nil {
		return nil, err
	}
	return &Activation{ESim: swapped, LPAString: lpa}, nil
}

// SMSActivateViaServer runs the same sequence inside the BFF in a single
// call.
func (s *ESimService) SMSActivateViaServer(ctx context.Context, code string) (*Activation, error) {
	if err := domain.ValidateMFACode(code); err != nil {
		return nil, err
	}
	snap := s.store.Snapshot()
	if snap.AccessToken == "" {
		return nil, domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	ref := snap.SwapMFARef
	if ref == "" {
		ref = snap.EmailCodeRef
	}
	if ref == "" {
		return nil, domain.NewValidationError("ref", domain.ErrMissingRef)
	}

	resp, err := s.bff.SMSActivate(ctx, api.SMSActivateRequest{
		AccessToken:    snap.AccessToken,
		Cookie:         snap.Cookie,
		Ref:            ref,
		Code:           code,
		EmailSignature: snap.EmailSignature,
		MemberID:       snap.MemberID,
	})
	if err != nil {
		return nil, err
	}
	_, err = s.store.Update(ctx, func(st *domain.SessionState) error {
		if resp.AccessToken != "" {
			st.AccessToken = resp.AccessToken
		}
		st.ESimSSN = resp.SSN
		st.ESimActivationCode = resp.ActivationCode
		st.LPAString = resp.LPAString
		st.AdvanceTo(domain.StepDownload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Activation{
		ESim:      domain.ESim{SSN: resp.SSN, ActivationCode: resp.ActivationCode},
		LPAString: resp.LPAString,
	}, nil
}

// AutoActivateESim confirms activationCode through the carrier's web flow
// using the stored cookie. The walk is attempted at most once per code: the
// attempt is recorded before the call is made.
func (s *ESimService) AutoActivateESim(ctx context.Context, activationCode string) ([]string, error) {
	snap := s.store.Snapshot()
	if snap.Cookie == "" {
		return nil, domain.NewValidationError("cookie", domain.ErrMissingCookie)
	}
	activationCode = strings.TrimSpace(activationCode)
	if activationCode == "" {
		activationCode = snap.ESimActivationCode
	}
	if activationCode == "" {
		return nil, domain.NewValidationError("activationCode", domain.ErrMissingActivationCode)
	}

	now := s.store.Clock().Now()
	_, err := s.store.Update(ctx, func(st *domain.SessionState) error {
		if _, done := st.ActivationAttempts[activationCode]; done {
			return domain.NewValidationError("activationCode", domain.ErrActivationAttempted)
		}
		if st.ActivationAttempts == nil {
			st.ActivationAttempts = make(map[string]time.Time)
		}
		st.ActivationAttempts[activationCode] = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.bff.WebActivate(ctx, api.WebActivateRequest{Cookie: snap.Cookie, ActivationCode: activationCode})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Update(ctx, func(st *domain.SessionState) error {
		st.AdvanceTo(domain.StepActivate)
		return nil
	}); err != nil {
		return resp.Steps, err
	}
	s.logger.Info("web activation completed", "steps", len(resp.Steps))
	return resp.Steps, nil
}
