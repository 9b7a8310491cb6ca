// Package registry tracks the health of the speech service backends.
//
// One instance is registered per logical service name (stt, llm, tts).
// Probes update instance state; they never fail the caller. Consumers read
// immutable snapshots, so a probe running concurrently with a read can never
// expose a half-updated instance.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrUnavailable is returned by callers that require a healthy instance when
// none is known.
var ErrUnavailable = errors.New("registry: no healthy instance")

type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnreachable Status = "unreachable"
)

// ServiceInstance is a point-in-time view of one backend. Values are copied
// out of the registry; mutating a returned instance has no effect.
type ServiceInstance struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	LatencyMS     int64     `json:"latency_ms,omitempty"`
}

type Config struct {
	// Endpoints maps logical service name to base URL.
	Endpoints map[string]string

	// ProbeTimeout bounds a single GET /health. Defaults to 5s.
	ProbeTimeout time.Duration

	// HeartbeatInterval is the re-probe cadence for HeartbeatLoop.
	// Defaults to 30s.
	HeartbeatInterval time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Registry struct {
	probeTimeout      time.Duration
	heartbeatInterval time.Duration
	client            *http.Client
	logger            *slog.Logger

	mu        sync.RWMutex
	instances map[string]ServiceInstance
}

func New(cfg Config) *Registry {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Registry{
		probeTimeout:      cfg.ProbeTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		client:            cfg.HTTPClient,
		logger:            cfg.Logger,
		instances:         make(map[string]ServiceInstance, len(cfg.Endpoints)),
	}
	for name, url := range cfg.Endpoints {
		r.instances[name] = ServiceInstance{
			Name:   name,
			URL:    url,
			Status: StatusUnknown,
		}
	}
	return r
}

// Discover probes every registered service once. Used at startup so the
// first requests see real statuses instead of unknown.
func (r *Registry) Discover(ctx context.Context) {
	for _, name := range r.names() {
		r.Probe(ctx, name)
	}
}

// Probe issues GET {url}/health for the named service and records the
// outcome. Unknown names are ignored. Probe failures are recorded as state,
// never returned.
func (r *Registry) Probe(ctx context.Context, name string) {
	r.mu.RLock()
	inst, ok := r.instances[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	status, latency := r.probeOnce(probeCtx, inst.URL)

	next := inst
	next.Status = status
	if status == StatusHealthy {
		next.LastHeartbeat = start
		next.LatencyMS = latency.Milliseconds()
	}

	r.mu.Lock()
	r.instances[name] = next
	r.mu.Unlock()

	if status != StatusHealthy {
		r.logger.Warn("service probe failed",
			"service", name,
			"url", inst.URL,
			"status", string(status))
	}
}

func (r *Registry) probeOnce(ctx context.Context, baseURL string) (Status, time.Duration) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return StatusUnreachable, 0
	}
	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return StatusUnreachable, 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusUnhealthy, 0
	}
	return StatusHealthy, time.Since(start)
}

// HeartbeatLoop re-probes every service at a fixed interval until ctx is
// canceled. Individual probe failures only change instance state.
func (r *Registry) HeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range r.names() {
				r.Probe(ctx, name)
			}
		}
	}
}

// GetHealthy returns the named instance only if its last probe succeeded.
func (r *Registry) GetHealthy(name string) (ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	if !ok || inst.Status != StatusHealthy {
		return ServiceInstance{}, false
	}
	return inst, true
}

// All returns a snapshot of every registered instance.
func (r *Registry) All() map[string]ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ServiceInstance, len(r.instances))
	for name, inst := range r.instances {
		out[name] = inst
	}
	return out
}

// Healthy returns the subset of instances whose last probe succeeded.
func (r *Registry) Healthy() []ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		if inst.Status == StatusHealthy {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instances))
	for name := range r.instances {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
