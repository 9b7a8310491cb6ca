package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/speechgate/speechgate/pkg/gateway/registry"
	"github.com/speechgate/speechgate/pkg/gateway/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.New(client, store.WithTTL(time.Hour))
}

// withHealth wraps a backend handler so the registry's /health probe
// succeeds while every other path hits the handler under test.
func withHealth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

func newTestRegistry(t *testing.T, endpoints map[string]string) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Config{
		Endpoints:    endpoints,
		ProbeTimeout: time.Second,
		Logger:       discardLogger(),
	})
	reg.Discover(t.Context())
	return reg
}

func createSession(t *testing.T, s *store.Store) string {
	t.Helper()
	sess, err := s.Create(t.Context(), "user-1", nil)
	require.NoError(t, err)
	return sess.ID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// sseFrames formats chunk frames the way the language model backend
// streams them.
func sseFrames(frames ...string) string {
	var out string
	for _, f := range frames {
		out += fmt.Sprintf("data: %s\n\n", f)
	}
	return out
}
