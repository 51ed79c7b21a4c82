// Package session manages the client's persisted provisioning state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/repository"
)

// DefaultTTL is how long a saved session stays valid after its last save.
const DefaultTTL = 2 * time.Hour

// Store is the state manager. Every change goes through Update, which
// persists the new state before making it visible.
type Store struct {
	mu     sync.Mutex
	repo   repository.SessionRepository
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger

	state  domain.SessionState
	loaded bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store on top of repo.
func New(repo repository.SessionRepository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		clock:  clock.New(),
		ttl:    DefaultTTL,
		logger: slog.Default(),
		state:  domain.NewSessionState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the store's time source.
func (s *Store) Clock() clock.Clock {
	return s.clock
}

// Load reads the persisted state. A missing or expired session yields the
// default state; an expired one is also deleted.
func (s *Store) Load(ctx context.Context) (domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return domain.NewSessionState(), err
	}
	return s.state.Clone(), nil
}

func (s *Store) loadLocked(ctx context.Context) error {
	saved, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.state = domain.NewSessionState()
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	case s.expired(saved):
		s.logger.Info("saved session expired", "saved_at", saved.SavedAt, "ttl", s.ttl)
		if err := s.repo.Delete(ctx); err != nil {
			return fmt.Errorf("delete expired session: %w", err)
		}
		s.state = domain.NewSessionState()
	default:
		s.state = *saved
	}
	s.loaded = true
	return nil
}

func (s *Store) expired(state *domain.SessionState) bool {
	if state.SavedAt.IsZero() {
		return false
	}
	return !s.clock.Now().Before(state.SavedAt.Add(s.ttl))
}

// Snapshot returns a copy of the current state. Once the TTL has passed it
// returns the default state.
func (s *Store) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(&s.state) {
		return domain.NewSessionState()
	}
	return s.state.Clone()
}

// Update applies fn to a copy of the state and saves it. If fn or the save
// fails, the visible state is unchanged. An expired session is reset to
// defaults before fn runs.
func (s *Store) Update(ctx context.Context, fn func(*domain.SessionState) error) (domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(ctx); err != nil {
			return s.state.Clone(), err
		}
	}
	if s.expired(&s.state) {
		s.logger.Info("session expired, starting over")
		s.state = domain.NewSessionState()
	}

	next := s.state.Clone()
	if err := fn(&next); err != nil {
		return s.state.Clone(), err
	}
	next.SavedAt = s.clock.Now()
	if err := s.repo.Save(ctx, &next); err != nil {
		return s.state.Clone(), fmt.Errorf("save session: %w", err)
	}
	s.state = next
	return next.Clone(), nil
}

// Clear wipes the session, in memory and on disk.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.state = domain.NewSessionState()
	s.loaded = true
	return nil
}

// Step returns the UI resumption cursor.
func (s *Store) Step() domain.Step {
	return s.Snapshot().CurrentStep
}

// ExpiresAt returns when the current session lapses, or the zero time if
// nothing has been saved yet.
func (s *Store) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SavedAt.IsZero() {
		return time.Time{}
	}
	return s.state.SavedAt.Add(s.ttl)
}
