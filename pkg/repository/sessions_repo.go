package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tendant/esimkit/pkg/domain"
)

// ErrNotFound is returned when no session has been saved.
var ErrNotFound = errors.New("session not found")

// SessionRepository persists the client session state.
type SessionRepository interface {
	Load(ctx context.Context) (*domain.SessionState, error)
	Save(ctx context.Context, state *domain.SessionState) error
	Delete(ctx context.Context) error
}

// FileSessionsRepository stores the session as a JSON file, optionally
// sealed with a passphrase.
type FileSessionsRepository struct {
	path   string
	sealer *Sealer
	mu     sync.Mutex
}

// NewFileSessionsRepository creates a file-backed repository. A nil sealer
// stores plain JSON.
func NewFileSessionsRepository(path string, sealer *Sealer) *FileSessionsRepository {
	return &FileSessionsRepository{path: path, sealer: sealer}
}

// Path returns the backing file.
func (r *FileSessionsRepository) Path() string {
	return r.path
}

// Load reads the saved session.
func (r *FileSessionsRepository) Load(ctx context.Context) (*domain.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if r.sealer != nil {
		data, err = r.sealer.Open(data)
		if err != nil {
			return nil, err
		}
	} else if IsSealed(data) {
		return nil, ErrPassphraseRequired
	}

	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &state, nil
}

// Save writes the session atomically with owner-only permissions.
func (r *FileSessionsRepository) Save(ctx context.Context, state *domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if r.sealer != nil {
		data, err = r.sealer.Seal(data)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Delete removes the session file. A missing file is not an error.
func (r *FileSessionsRepository) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemorySessionsRepository keeps the session in memory. Used by tests and
// by embedders that persist state themselves.
type MemorySessionsRepository struct {
	mu    sync.Mutex
	state *domain.SessionState
}

// NewMemorySessionsRepository creates an empty in-memory repository.
func NewMemorySessionsRepository() *MemorySessionsRepository {
	return &MemorySessionsRepository{}
}

func (r *MemorySessionsRepository) Load(ctx context.Context) (*domain.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil, ErrNotFound
	}
	s := r.state.Clone()
	return &s, nil
}

func (r *MemorySessionsRepository) Save(ctx context.Context, state *domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := state.Clone()
	r.state = &s
	return nil
}

func (r *MemorySessionsRepository) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = nil
	return nil
}
