package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"deltastream/internal/domain"
	"deltastream/internal/usecase/streaming"
)

// Version is reported by the status endpoint; overridden at link time.
var Version = "dev"

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service   ServiceStatus    `json:"service"`
	Streams   streaming.Stats  `json:"streams"`
	Default   string           `json:"default_provider"`
	Providers []ProviderStatus `json:"providers"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ProviderStatus describes one configured provider and its breaker.
type ProviderStatus struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Model   string `json:"model"`
	Breaker string `json:"breaker"`
}

// breakerState reports the circuit state for a provider type, or
// "unsupported" when the type names no known vendor.
func breakerState(deps HandlerDeps, providerType string) string {
	kind, err := domain.ParseProviderKind(providerType)
	if err != nil {
		return "unsupported"
	}
	return deps.Breakers.State(kind).String()
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cfg := deps.Config.Snapshot()
		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "deltastream",
				Version:       Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Streams:   deps.Streams.Stats(),
			Default:   cfg.Default,
			Providers: make([]ProviderStatus, 0, len(cfg.Providers)),
		}
		for _, p := range cfg.Providers {
			resp.Providers = append(resp.Providers, ProviderStatus{
				Name:    p.Name,
				Type:    p.Type,
				Model:   p.Model,
				Breaker: breakerState(deps, p.Type),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
