package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func healthServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe_HealthyInstance(t *testing.T) {
	srv := healthServer(t, http.StatusOK)

	r := New(Config{
		Endpoints: map[string]string{"stt": srv.URL},
		Logger:    discardLogger(),
	})

	if _, ok := r.GetHealthy("stt"); ok {
		t.Fatal("unprobed instance must not be healthy")
	}

	r.Probe(context.Background(), "stt")

	inst, ok := r.GetHealthy("stt")
	if !ok {
		t.Fatal("probed instance should be healthy")
	}
	if inst.Status != StatusHealthy {
		t.Fatalf("Status = %q, want healthy", inst.Status)
	}
	if inst.LastHeartbeat.IsZero() {
		t.Fatal("LastHeartbeat should be set after a successful probe")
	}
}

func TestProbe_Non200IsUnhealthy(t *testing.T) {
	srv := healthServer(t, http.StatusServiceUnavailable)

	r := New(Config{
		Endpoints: map[string]string{"llm": srv.URL},
		Logger:    discardLogger(),
	})
	r.Probe(context.Background(), "llm")

	if _, ok := r.GetHealthy("llm"); ok {
		t.Fatal("non-200 health response must not be healthy")
	}
	if got := r.All()["llm"].Status; got != StatusUnhealthy {
		t.Fatalf("Status = %q, want unhealthy", got)
	}
}

func TestProbe_TransportErrorIsUnreachable(t *testing.T) {
	srv := healthServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	r := New(Config{
		Endpoints: map[string]string{"tts": url},
		Logger:    discardLogger(),
	})
	r.Probe(context.Background(), "tts")

	if got := r.All()["tts"].Status; got != StatusUnreachable {
		t.Fatalf("Status = %q, want unreachable", got)
	}
}

func TestProbe_RecoveryFlipsBackToHealthy(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(Config{
		Endpoints: map[string]string{"stt": srv.URL},
		Logger:    discardLogger(),
	})

	r.Probe(context.Background(), "stt")
	if _, ok := r.GetHealthy("stt"); ok {
		t.Fatal("failing instance must not be healthy")
	}

	healthy.Store(true)
	r.Probe(context.Background(), "stt")
	if _, ok := r.GetHealthy("stt"); !ok {
		t.Fatal("recovered instance should be healthy")
	}
}

func TestDiscover_ProbesAll(t *testing.T) {
	up := healthServer(t, http.StatusOK)
	down := healthServer(t, http.StatusBadGateway)

	r := New(Config{
		Endpoints: map[string]string{"stt": up.URL, "llm": down.URL},
		Logger:    discardLogger(),
	})
	r.Discover(context.Background())

	if _, ok := r.GetHealthy("stt"); !ok {
		t.Fatal("stt should be healthy after Discover")
	}
	if _, ok := r.GetHealthy("llm"); ok {
		t.Fatal("llm should not be healthy after Discover")
	}
	if got := len(r.Healthy()); got != 1 {
		t.Fatalf("Healthy() len = %d, want 1", got)
	}
}

func TestGetHealthy_UnknownName(t *testing.T) {
	r := New(Config{Logger: discardLogger()})
	if _, ok := r.GetHealthy("nope"); ok {
		t.Fatal("unknown service must not be healthy")
	}
}

func TestHeartbeatLoop_StopsOnCancel(t *testing.T) {
	srv := healthServer(t, http.StatusOK)

	r := New(Config{
		Endpoints:         map[string]string{"stt": srv.URL},
		HeartbeatInterval: 5 * time.Millisecond,
		Logger:            discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.HeartbeatLoop(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := r.GetHealthy("stt"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("heartbeat never marked instance healthy")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HeartbeatLoop did not exit on ctx cancel")
	}
}
