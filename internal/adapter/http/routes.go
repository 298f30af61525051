package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws serves
// the event feed; nil leaves /ws unmounted.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orchestrations", h.StartOrchestration)
		r.Get("/orchestrations/{id}", h.GetOrchestration)
		r.Post("/orchestrations/{id}/cancel", h.CancelOrchestration)

		r.Get("/agents", h.ListAgents)
		r.Get("/agents/stats", h.AgentStats)
		r.Get("/providers/health", h.ProviderHealth)
		r.Get("/cache/stats", h.CacheStats)
	})
}
