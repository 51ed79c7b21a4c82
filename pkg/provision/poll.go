// Package provision holds the profile download polling discipline shared by
// the client and the BFF.
package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tendant/esimkit/pkg/domain"
)

// Defaults for the LPA poll. The carrier does not document these; they are
// configuration.
const (
	DefaultSettleDelay  = 5 * time.Second
	DefaultPollInterval = 4 * time.Second
	DefaultDeadline     = 120 * time.Second
)

// Config controls the poll loop.
type Config struct {
	SettleDelay time.Duration
	Interval    time.Duration
	Deadline    time.Duration
}

// DefaultConfig returns the production discipline.
func DefaultConfig() Config {
	return Config{
		SettleDelay: DefaultSettleDelay,
		Interval:    DefaultPollInterval,
		Deadline:    DefaultDeadline,
	}
}

// WithRetries converts an attempt budget into the equivalent deadline:
// the first poll after the settle delay plus maxRetries-1 intervals.
func (c Config) WithRetries(maxRetries int) Config {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.Deadline = c.SettleDelay + time.Duration(maxRetries-1)*c.Interval
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	return c
}

// FetchFunc reads the download string once. An empty string means the
// profile is not ready.
type FetchFunc func(ctx context.Context) (string, error)

// Poller waits for a profile download string.
type Poller struct {
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
}

// NewPoller creates a poller. A nil clock uses wall time.
func NewPoller(clk clock.Clock, cfg Config, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{clock: clk, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Wait sleeps for the settle delay, then calls fetch every interval until it
// returns a non-empty string or the deadline (measured from the call) would
// be passed by the next attempt. Transient fetch errors are swallowed.
// Errors that waiting cannot fix (bad input, a required re-login) end the
// loop at once. Cancelling ctx stops scheduling further polls.
func (p *Poller) Wait(ctx context.Context, ssn string, fetch FetchFunc) (string, error) {
	if ssn == "" {
		return "", domain.NewValidationError("ssn", domain.ErrMissingSSN)
	}

	start := p.clock.Now()
	deadline := start.Add(p.cfg.Deadline)

	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return "", err
	}

	var (
		attempts int
		lastErr  error
	)
	for {
		attempts++
		lpa, err := fetch(ctx)
		switch {
		case err == nil && lpa != "":
			p.logger.Info("profile download string ready", "attempts", attempts, "waited", p.clock.Since(start))
			return lpa, nil
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if terminal(err) {
				return "", err
			}
			lastErr = err
			p.logger.Debug("lpa poll attempt failed", "attempt", attempts, "error", err)
		}

		if p.clock.Now().Add(p.cfg.Interval).After(deadline) {
			return "", &domain.LpaTimeoutError{
				SSN:      ssn,
				Attempts: attempts,
				Waited:   p.clock.Since(start),
				LastErr:  lastErr,
			}
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return "", err
		}
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := p.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func terminal(err error) bool {
	var (
		validationErr *domain.ValidationError
		authErr       *domain.AuthError
	)
	return errors.As(err, &validationErr) ||
		(errors.As(err, &authErr) && authErr.NeedReLogin) ||
		errors.Is(err, domain.ErrNeedReLogin)
}
