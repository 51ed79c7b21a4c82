package activate

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/tendant/esimkit/internal/httputil"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/carrier"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/provision"
)

// Carrier is the upstream surface the activation flows need.
type Carrier interface {
	carrier.Refresher
	Validate(ctx context.Context, token, cookie, ref, code string, via domain.MFAVia) (string, string, error)
	MemberProfile(ctx context.Context, token, mfaSignature string) (domain.MemberInfo, error)
	ReserveESim(ctx context.Context, token, mfaSignature, memberID string) (domain.ESim, error)
	SwapSim(ctx context.Context, token, activationCode, mfaSignature, mfaRef string) (domain.ESim, error)
	DownloadToken(ctx context.Context, token, ssn string) (domain.DownloadToken, error)
	WebActivate(ctx context.Context, cookie, activationCode string) ([]string, error)
}

// Handler runs the server-side activation flows.
type Handler struct {
	logger  *slog.Logger
	carrier Carrier
	clock   clock.Clock
	poll    provision.Config
}

// NewHandler creates a new activation handler. A nil clock uses wall time.
func NewHandler(logger *slog.Logger, c Carrier, clk clock.Clock, poll provision.Config) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{
		logger:  logger,
		carrier: c,
		clock:   clk,
		poll:    poll,
	}
}

// session carries the token across the steps of one flow so a refresh in
// one step is used by the next.
type session struct {
	carrier Carrier
	token   string
	cookie  string
}

func call[T any](ctx context.Context, s *session, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	out, used, err := carrier.CallWithRefresh(ctx, s.carrier, s.token, s.cookie, fn)
	if used != "" {
		s.token = used
	}
	return out, err
}

// SMSActivate handles POST /api/giffgaff-sms-activate
//
// Validate the SMS code, reserve a profile, swap to it, then poll the
// download token for the SSN the swap returned.
func (h *Handler) SMSActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SMSActivateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := domain.ValidateMFACode(req.Code); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if req.Ref == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("ref", domain.ErrMissingRef))
		return
	}
	s := &session{
		carrier: h.carrier,
		token:   httputil.AccessToken(r, req.AccessToken),
		cookie:  httputil.CarrierCookie(r, req.Cookie),
	}
	if s.token == "" && s.cookie == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("accessToken", domain.ErrMissingAccessToken))
		return
	}
	sent := s.token

	smsSig, used, err := h.carrier.Validate(ctx, s.token, s.cookie, req.Ref, req.Code, domain.MFAViaApp)
	if used != "" {
		s.token = used
	}
	if err != nil {
		h.fail(w, "validate", err)
		return
	}

	reserveSig := req.EmailSignature
	if reserveSig == "" {
		reserveSig = smsSig
	}
	memberID := req.MemberID
	if memberID == "" {
		member, err := call(ctx, s, func(ctx context.Context, tok string) (domain.MemberInfo, error) {
			return h.carrier.MemberProfile(ctx, tok, reserveSig)
		})
		if err != nil {
			h.fail(w, "member profile", err)
			return
		}
		memberID = member.ID
	}

	reserved, err := call(ctx, s, func(ctx context.Context, tok string) (domain.ESim, error) {
		return h.carrier.ReserveESim(ctx, tok, reserveSig, memberID)
	})
	if err != nil {
		h.fail(w, "reserve", err)
		return
	}
	h.logger.Info("esim reserved", "ssn", reserved.SSN)

	swapped, err := call(ctx, s, func(ctx context.Context, tok string) (domain.ESim, error) {
		return h.carrier.SwapSim(ctx, tok, reserved.ActivationCode, smsSig, req.Ref)
	})
	if err != nil {
		h.fail(w, "swap", err)
		return
	}
	h.logger.Info("sim swapped", "ssn", swapped.SSN)

	poller := provision.NewPoller(h.clock, h.poll, h.logger)
	lpa, err := poller.Wait(ctx, swapped.SSN, func(ctx context.Context) (string, error) {
		dt, err := call(ctx, s, func(ctx context.Context, tok string) (domain.DownloadToken, error) {
			return h.carrier.DownloadToken(ctx, tok, swapped.SSN)
		})
		return dt.LPA(), err
	})
	if err != nil {
		h.fail(w, "download token", err)
		return
	}

	resp := api.SMSActivateResponse{
		Success:        true,
		SSN:            swapped.SSN,
		ActivationCode: swapped.ActivationCode,
		LPAString:      lpa,
	}
	if resp.ActivationCode == "" {
		resp.ActivationCode = reserved.ActivationCode
	}
	if s.token != sent {
		w.Header().Set(api.HeaderAccessToken, s.token)
		resp.AccessToken = s.token
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// WebActivate handles POST /api/giffgaff-web-activate
func (h *Handler) WebActivate(w http.ResponseWriter, r *http.Request) {
	var req api.WebActivateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	cookie := httputil.CarrierCookie(r, req.Cookie)
	if cookie == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("cookie", domain.ErrMissingCookie))
		return
	}
	code := strings.TrimSpace(req.ActivationCode)
	if code == "" {
		httputil.WriteError(w, h.logger, domain.NewValidationError("activationCode", domain.ErrMissingActivationCode))
		return
	}

	steps, err := h.carrier.WebActivate(r.Context(), cookie, code)
	if err != nil {
		h.logger.Warn("web activation stopped", "completed", steps, "error", err)
		httputil.WriteError(w, h.logger, err)
		return
	}
	h.logger.Info("web activation confirmed", "steps", len(steps))
	httputil.JSON(w, http.StatusOK, api.WebActivateResponse{Success: true, Steps: steps})
}

func (h *Handler) fail(w http.ResponseWriter, step string, err error) {
	h.logger.Info("sms activation failed", "step", step, "error", err)
	httputil.WriteError(w, h.logger, err)
}
