package client

import (
	"context"
	"log/slog"

	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/session"
)

// MFAHandler runs the two-phase one-time code exchange.
type MFAHandler struct {
	bff    *BFF
	store  *session.Store
	logger *slog.Logger
}

func NewMFAHandler(bff *BFF, store *session.Store, logger *slog.Logger) *MFAHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MFAHandler{bff: bff, store: store, logger: logger}
}

// SendMFAChallenge requests a code over channel (EMAIL or TEXT) and stores
// the returned ref.
func (h *MFAHandler) SendMFAChallenge(ctx context.Context, channel string) (*domain.MFAChallenge, error) {
	ch, err := domain.ParseMFAChannel(channel)
	if err != nil {
		return nil, err
	}
	snap := h.store.Snapshot()
	if !snap.HasCredentials() {
		return nil, domain.NewValidationError("accessToken", domain.ErrMissingCredentials)
	}

	resp, err := h.bff.MFAChallenge(ctx, api.MFAChallengeRequest{
		AccessToken: snap.AccessToken,
		Cookie:      snap.Cookie,
		Channel:     string(ch),
	})
	if err != nil {
		return nil, err
	}

	_, err = h.store.Update(ctx, func(s *domain.SessionState) error {
		s.EmailCodeRef = resp.Ref
		s.MFAVia = resp.Via
		s.MFAChannel = ch
		if resp.AccessToken != "" {
			s.AccessToken = resp.AccessToken
		}
		s.AdvanceTo(domain.StepMFA)
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info("mfa challenge sent", "channel", ch, "via", resp.Via)
	return &domain.MFAChallenge{Ref: resp.Ref, Via: resp.Via, Channel: ch}, nil
}

// ValidateMFACode redeems code against the stored ref and stores the
// resulting signature. The format is checked before anything is sent.
func (h *MFAHandler) ValidateMFACode(ctx context.Context, code string) (string, error) {
	if err := domain.ValidateMFACode(code); err != nil {
		return "", err
	}
	snap := h.store.Snapshot()
	if snap.EmailCodeRef == "" {
		return "", domain.NewValidationError("ref", domain.ErrMissingRef)
	}

	signature, err := h.validate(ctx, snap, snap.EmailCodeRef, code, snap.MFAVia)
	if err != nil {
		return "", err
	}
	_, err = h.store.Update(ctx, func(s *domain.SessionState) error {
		s.EmailSignature = signature
		s.AdvanceTo(domain.StepMemberInfo)
		return nil
	})
	if err != nil {
		return "", err
	}
	h.logger.Info("mfa code accepted")
	return signature, nil
}

// validate redeems (ref, code) and records a refreshed token if the BFF
// returned one.
func (h *MFAHandler) validate(ctx context.Context, snap domain.SessionState, ref, code string, via domain.MFAVia) (string, error) {
	resp, err := h.bff.MFAValidation(ctx, api.MFAValidationRequest{
		AccessToken: snap.AccessToken,
		Cookie:      snap.Cookie,
		Ref:         ref,
		Code:        code,
		Via:         via,
	})
	if err != nil {
		return "", err
	}
	if resp.AccessToken != "" && resp.AccessToken != snap.AccessToken {
		if _, err := h.store.Update(ctx, func(s *domain.SessionState) error {
			s.AccessToken = resp.AccessToken
			return nil
		}); err != nil {
			return "", err
		}
	}
	return resp.Signature, nil
}

// SendSimSwapMFAChallenge issues the challenge that guards the swap
// mutation. Its ref is stored separately and later sent as mfaRef.
func (h *MFAHandler) SendSimSwapMFAChallenge(ctx context.Context) (string, error) {
	snap := h.store.Snapshot()
	if snap.AccessToken == "" {
		return "", domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	channel := snap.MFAChannel
	if channel == "" {
		channel = domain.MFAChannelText
	}

	var data carrier.SimSwapChallengeData
	if err := graphQL(ctx, h.bff, h.store, carrier.SimSwapChallengeRequest(channel), "", &data); err != nil {
		return "", err
	}
	ref := data.SimSwapMfaChallenge.Ref
	if ref == "" {
		return "", &domain.UpstreamError{Op: "simSwapMfaChallenge", Status: 502, Body: "no ref returned"}
	}
	_, err := h.store.Update(ctx, func(s *domain.SessionState) error {
		s.SwapMFARef = ref
		return nil
	})
	if err != nil {
		return "", err
	}
	h.logger.Info("sim swap challenge sent", "channel", channel)
	return ref, nil
}

// graphQL sends req through the proxy with the stored credentials, keeps a
// refreshed token and decodes the data into out.
func graphQL(ctx context.Context, bff *BFF, store *session.Store, req carrier.GraphQLRequest, mfaSignature string, out any) error {
	snap := store.Snapshot()
	if snap.AccessToken == "" {
		return domain.NewValidationError("accessToken", domain.ErrMissingAccessToken)
	}
	body, refreshed, err := bff.GraphQL(ctx, api.GraphQLProxyRequest{
		AccessToken:   snap.AccessToken,
		Query:         req.Query,
		Variables:     req.Variables,
		OperationName: req.OperationName,
		MFASignature:  mfaSignature,
		Cookie:        snap.Cookie,
	})
	if err != nil {
		return err
	}
	if refreshed != "" && refreshed != snap.AccessToken {
		if _, err := store.Update(ctx, func(s *domain.SessionState) error {
			s.AccessToken = refreshed
			return nil
		}); err != nil {
			return err
		}
	}
	return carrier.DecodeGraphQL("graphql "+req.OperationName, body, out)
}
