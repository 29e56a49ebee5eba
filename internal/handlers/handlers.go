// Package handlers exposes the cache engine's operational HTTP surface:
// health, stats, and invalidation. In-process callers use the cache package
// directly; this API exists for operators and platform tooling.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"tiercache/internal/cache"
)

type Handlers struct {
	cache *cache.Service
}

func New(cacheService *cache.Service) *Handlers {
	return &Handlers{cache: cacheService}
}

// HealthCheck reports the aggregate health of both tiers. Degraded still
// answers 200: the engine is serving, just without its remote tier.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.cache.HealthCheck(r.Context())

	status := http.StatusOK
	if health.Status == cache.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}

// GetStats returns the passive hit/miss and residency counters.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.cache.Stats())
}

// DeleteEntry removes one key from both tiers.
func (h *Handlers) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.cache.Delete(r.Context(), vars["namespace"], vars["key"])
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateTag removes every key registered under the tag.
func (h *Handlers) InvalidateTag(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	count := h.cache.InvalidateByTag(r.Context(), vars["tag"])

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"invalidated": count})
}

// InvalidateNamespace clears a whole namespace across both tiers.
func (h *Handlers) InvalidateNamespace(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	count := h.cache.InvalidateNamespace(r.Context(), vars["namespace"])

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"cleared": count})
}
