package carrier

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/internal/carriersim"
	"github.com/tendant/esimkit/pkg/repository"
)

const (
	testClientID     = "esim-web"
	testClientSecret = "sim-secret"
	testSession      = "live-session"
	testCode         = "123456"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSim starts a simulated carrier and a client pointed at it.
func newSim(t *testing.T, mutate func(*carriersim.Config)) (*carriersim.Sim, *Client) {
	t.Helper()
	cfg := carriersim.Config{
		ClientID:       testClientID,
		ClientSecret:   testClientSecret,
		FixedCode:      testCode,
		SessionCookies: []string{testSession},
		Clock:          clock.NewMock(),
		Logger:         discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sim, err := carriersim.New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	c := New(Config{
		APIBaseURL:   srv.URL,
		IDBaseURL:    srv.URL,
		WebBaseURL:   srv.URL,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  "giffgaff://auth/callback/",
		Timeout:      5 * time.Second,
		CSRFCache:    repository.NewMemoryCache(clock.New()),
		Logger:       discardLogger(),
	})
	return sim, c
}
