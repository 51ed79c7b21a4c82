package bff

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/internal/config"
	"github.com/tendant/esimkit/pkg/api"
)

func TestNew_RequiresAccessKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(Config{Settings: &config.Config{}, Logger: logger})
	require.Error(t, err)

	b, err := New(Config{Settings: &config.Config{AllowOpenAccess: true}, Logger: logger})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, api.PathHealth, nil)
	w := httptest.NewRecorder()
	b.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
