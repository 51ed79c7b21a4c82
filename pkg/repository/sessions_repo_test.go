package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/pkg/domain"
)

func sampleState() *domain.SessionState {
	s := domain.NewSessionState()
	s.AccessToken = "token"
	s.EmailSignature = "sig"
	s.MemberID = "member-1"
	s.ESimSSN = "8944"
	s.CurrentStep = domain.StepMemberInfo
	s.SavedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &s
}

func TestFileSessionsRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	repo := NewFileSessionsRepository(path, nil)

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	want := sampleState()
	require.NoError(t, repo.Save(ctx, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, repo.Delete(ctx))
	require.NoError(t, repo.Delete(ctx))
	_, err = repo.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSessionsRepository_Sealed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.bin")

	sealed := NewFileSessionsRepository(path, NewSealer("correct horse"))
	want := sampleState()
	require.NoError(t, sealed.Save(ctx, want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsSealed(raw))
	assert.NotContains(t, string(raw), "member-1")

	got, err := sealed.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewFileSessionsRepository(path, NewSealer("wrong")).Load(ctx)
	assert.ErrorIs(t, err, ErrWrongPassphrase)

	_, err = NewFileSessionsRepository(path, nil).Load(ctx)
	assert.ErrorIs(t, err, ErrPassphraseRequired)
}

func TestNewSealer_EmptyPassphrase(t *testing.T) {
	if NewSealer("") != nil {
		t.Error("NewSealer(\"\") should return nil")
	}
}

func TestMemorySessionsRepository_CopiesState(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionsRepository()

	s := sampleState()
	s.ActivationAttempts = map[string]time.Time{"code": s.SavedAt}
	require.NoError(t, repo.Save(ctx, s))

	s.ActivationAttempts["other"] = s.SavedAt
	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.ActivationAttempts, 1)

	require.NoError(t, repo.Delete(ctx))
	_, err = repo.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
