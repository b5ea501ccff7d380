package http

import (
	"net/http"
	"sort"

	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/service"
)

// Handlers holds the services the HTTP endpoints call.
type Handlers struct {
	Extractions *service.ExtractionService
	Providers   *service.ProviderSet
	Push        config.Push
	Version     string
	// Checks report the health of optional dependencies, keyed by name.
	Checks map[string]func() bool
}

type healthResponse struct {
	Status          string            `json:"status"`
	Version         string            `json:"version,omitempty"`
	DefaultProvider string            `json:"defaultProvider,omitempty"`
	Providers       []string          `json:"providers"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
}

// Health reports service status. A failing optional dependency degrades
// the status but never fails the probe: extraction works without it.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: h.Version, Providers: []string{}}
	if h.Providers != nil {
		resp.DefaultProvider = h.Providers.Default()
		resp.Providers = h.Providers.Names()
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if resp.Dependencies == nil {
			resp.Dependencies = make(map[string]string, len(names))
		}
		if h.Checks[name]() {
			resp.Dependencies[name] = "up"
			continue
		}
		resp.Dependencies[name] = "down"
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
