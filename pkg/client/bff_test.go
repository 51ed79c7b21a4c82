package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/pkg/domain"
)

// slowServer answers after delay, or when the caller gives up.
func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"valid":true}`))
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBFF_TimeoutBecomesTimeoutError(t *testing.T) {
	srv := slowServer(t, 300*time.Millisecond)
	b := NewBFF(BFFConfig{BaseURL: srv.URL, AccessKey: "test-key", Timeout: 50 * time.Millisecond})

	_, err := b.VerifyCookie(context.Background(), "cookie")
	require.Error(t, err)

	var timeoutErr *domain.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %T: %v", err, err)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.Contains(t, timeoutErr.Op, "verify-cookie")
	assert.Equal(t, domain.ActionRetry, domain.ActionFor(err))
}

func TestBFF_CallerCancelIsNotATimeout(t *testing.T) {
	srv := slowServer(t, 300*time.Millisecond)
	b := NewBFF(BFFConfig{BaseURL: srv.URL, AccessKey: "test-key", Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := b.VerifyCookie(ctx, "cookie")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var timeoutErr *domain.TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}
