package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/orchestration"
	"github.com/Strob0t/argus/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Orchestrations is the slice of the orchestrator the API drives.
type Orchestrations interface {
	Start(ctx context.Context, req *orchestration.Request) (string, error)
	Session(id string) (*orchestration.Result, error)
	Cancel(id string) error
}

// GatewayInfo reports the gateway's registered agents and provider state.
type GatewayInfo interface {
	Agents() []agent.Config
	AgentStats() []service.AgentStats
	Health(ctx context.Context) []service.ProviderHealth
	CacheStats() service.CacheStats
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	Orchestrations Orchestrations
	Gateway        GatewayInfo
	Version        string
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// StartOrchestration handles POST /api/v1/orchestrations. Omitted fields
// take the request defaults. The session may wait for a run slot; only a
// full queue is refused.
func (h *Handlers) StartOrchestration(w http.ResponseWriter, r *http.Request) {
	req := orchestration.DefaultRequest()
	if !decodeJSON(w, r, &req, maxRequestBodySize) {
		return
	}

	id, err := h.Orchestrations.Start(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, startResponse{SessionID: id})
	case errors.Is(err, domain.ErrConflict):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeDomainError(w, err, "orchestration rejected")
	}
}

// GetOrchestration handles GET /api/v1/orchestrations/{id}.
func (h *Handlers) GetOrchestration(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orchestrations.Session(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "orchestration not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelOrchestration handles POST /api/v1/orchestrations/{id}/cancel.
func (h *Handlers) CancelOrchestration(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrations.Cancel(id); err != nil {
		writeDomainError(w, err, "orchestration not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "cancelling"})
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.Agents())
}

// AgentStats handles GET /api/v1/agents/stats.
func (h *Handlers) AgentStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.AgentStats())
}

// ProviderHealth handles GET /api/v1/providers/health. It answers 503 when
// any provider is unhealthy.
func (h *Handlers) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	health := h.Gateway.Health(r.Context())
	status := http.StatusOK
	for _, p := range health {
		if !p.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, health)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handlers) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.CacheStats())
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}
