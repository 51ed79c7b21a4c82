package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/esimkit/pkg/api"
	"github.com/tendant/esimkit/pkg/repository"
	"github.com/tendant/esimkit/pkg/session"
)

// fakeBFF records every call and answers from per-path handlers.
type fakeBFF struct {
	mu     sync.Mutex
	calls  []string
	bodies map[string][][]byte
	routes map[string]http.HandlerFunc
}

func newFakeBFF(t *testing.T) (*fakeBFF, *BFF) {
	t.Helper()
	f := &fakeBFF{bodies: map[string][][]byte{}, routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewBFF(BFFConfig{BaseURL: srv.URL, AccessKey: "test-key", Timeout: 5 * time.Second})
}

func (f *fakeBFF) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, r.URL.Path)
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], body)
	h, ok := f.routes[r.URL.Path]
	f.mu.Unlock()

	if r.Header.Get(api.HeaderAccessKey) != "test-key" {
		writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: api.CodeUnauthorized, Message: "bad key"})
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	h(w, r)
}

func (f *fakeBFF) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = h
}

// graphql routes proxy calls by operation name.
func (f *fakeBFF) graphql(ops map[string]func(req api.GraphQLProxyRequest) (int, any)) {
	f.handle(api.PathGraphQL, func(w http.ResponseWriter, r *http.Request) {
		var req api.GraphQLProxyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		op, ok := ops[req.OperationName]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]string{{"message": "unknown operation"}}})
			return
		}
		status, body := op(req)
		writeJSON(w, status, body)
	})
}

func (f *fakeBFF) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == path {
			n++
		}
	}
	return n
}

func (f *fakeBFF) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBFF) lastBody(t *testing.T, path string, v any) {
	t.Helper()
	f.mu.Lock()
	bodies := f.bodies[path]
	f.mu.Unlock()
	require.NotEmpty(t, bodies, "no call to %s", path)
	require.NoError(t, json.Unmarshal(bodies[len(bodies)-1], v))
}

// graphQLBodies decodes every proxy request in order.
func (f *fakeBFF) graphQLBodies(t *testing.T) []api.GraphQLProxyRequest {
	t.Helper()
	f.mu.Lock()
	bodies := f.bodies[api.PathGraphQL]
	f.mu.Unlock()
	out := make([]api.GraphQLProxyRequest, 0, len(bodies))
	for _, b := range bodies {
		var req api.GraphQLProxyRequest
		require.NoError(t, json.Unmarshal(b, &req))
		out = append(out, req)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newStore(mock *clock.Mock) *session.Store {
	return session.New(repository.NewMemorySessionsRepository(), session.WithClock(mock))
}

// runDriven runs fn in a goroutine and advances mock until it returns.
func runDriven(t *testing.T, mock *clock.Mock, step, limit time.Duration, fn func() error) (time.Duration, error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()

	start := mock.Now()
	for {
		select {
		case err := <-done:
			return mock.Since(start), err
		default:
		}
		if mock.Since(start) > limit {
			t.Fatalf("still running after %s of simulated time", limit)
		}
		mock.Add(step)
		time.Sleep(time.Millisecond)
	}
}
