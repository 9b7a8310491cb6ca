package handlers

import (
	"context"
	"net/http"

	"github.com/speechgate/speechgate/pkg/gateway/registry"
	"github.com/speechgate/speechgate/pkg/gateway/store"
)

// HealthzHandler is the liveness probe.
type HealthzHandler struct{}

func (h HealthzHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler aggregates the session store and backend service health.
// Any unhealthy dependency degrades the overall status but the endpoint
// still answers 200 so load balancers can read the detail.
type HealthHandler struct {
	Store    StorePinger
	Registry *registry.Registry
	Version  string
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		Status   string            `json:"status"`
		Version  string            `json:"version"`
		Services map[string]string `json:"services"`
		Redis    string            `json:"redis"`
	}

	redisStatus := "healthy"
	if h.Store == nil || h.Store.Ping(r.Context()) != nil {
		redisStatus = "unhealthy"
	}

	services := make(map[string]string)
	if h.Registry != nil {
		for name, inst := range h.Registry.All() {
			services[name] = string(inst.Status)
		}
	}

	overall := "healthy"
	if redisStatus != "healthy" {
		overall = "degraded"
	}
	for _, status := range services {
		if status != string(registry.StatusHealthy) {
			overall = "degraded"
			break
		}
	}

	version := h.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, healthResp{
		Status:   overall,
		Version:  version,
		Services: services,
		Redis:    redisStatus,
	})
}

var _ StorePinger = (*store.Store)(nil)
