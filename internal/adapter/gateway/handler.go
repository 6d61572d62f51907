package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"deltastream/internal/adapter/llm"
	"deltastream/internal/domain"
	"deltastream/internal/infra/config"
	"deltastream/internal/usecase/streaming"
)

// StreamLauncher is the part of streaming.Manager the gateway drives.
type StreamLauncher interface {
	Launch(ctx context.Context, desc domain.RequestDescriptor) domain.StreamID
	Cancel(id domain.StreamID) bool
	Streams() []streaming.StreamInfo
	Stats() streaming.Stats
}

// ConnectionTester runs the one-shot provider probe.
type ConnectionTester interface {
	TestConnection(ctx context.Context, desc domain.RequestDescriptor, timeout time.Duration) error
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Streams  StreamLauncher
	Tester   ConnectionTester
	Config   *config.Store
	Bus      domain.EventBus
	Breakers *llm.Breakers // can be nil (breakers disabled)
	Logger   *slog.Logger
}

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("stream.start", streamStartHandler(deps))
	s.RegisterHandler("stream.cancel", streamCancelHandler(deps))
	s.RegisterHandler("stream.list", streamListHandler(deps))
	s.RegisterHandler("connection.test", connectionTestHandler(deps))
	s.RegisterHandler("config.get", configGetHandler(deps))
	s.RegisterHandler("config.set_default", configSetDefaultHandler(deps))
}

// RegisterRESTHandlers registers the authenticated HTTP endpoints.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) {
	startTime := time.Now()

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(deps, startTime)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime)))
}

// --- streams ---

// streamTarget selects what a request talks to: a configured provider by
// name (empty means the default), or a raw descriptor.
type streamTarget struct {
	Provider   string                    `json:"provider,omitempty"`
	Model      string                    `json:"model,omitempty"`
	Descriptor *domain.RequestDescriptor `json:"descriptor,omitempty"`
}

// resolve builds the descriptor for prompt. A raw descriptor is passed
// through unvalidated so an unknown provider type still ends as a stream error.
func (t streamTarget) resolve(store *config.Store, prompt, system string) (domain.RequestDescriptor, error) {
	if t.Descriptor != nil {
		desc := *t.Descriptor
		if prompt != "" {
			desc.Prompt = prompt
		}
		if system != "" {
			desc.SystemPrompt = system
		}
		return desc, nil
	}
	p, err := store.Provider(t.Provider)
	if err != nil {
		return domain.RequestDescriptor{}, err
	}
	desc := p.Descriptor(prompt, system)
	if t.Model != "" {
		desc.Model = t.Model
	}
	return desc, nil
}

type streamStartRequest struct {
	streamTarget
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type streamStartResponse struct {
	StreamID domain.StreamID `json:"stream_id"`
}

func streamStartHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req streamStartRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		desc, err := req.resolve(deps.Config, req.Prompt, req.SystemPrompt)
		if err != nil {
			return nil, err
		}
		if desc.Prompt == "" {
			return nil, domain.NewDomainError("stream.start", domain.ErrRPCInvalidPayload, "prompt is required")
		}

		id := deps.Streams.Launch(ctx, desc)
		deps.Logger.Info("stream started via gateway", "stream_id", id, "client", client.Name, "provider", desc.Provider, "model", desc.Model)
		return json.Marshal(streamStartResponse{StreamID: id})
	}
}

type streamCancelRequest struct {
	StreamID domain.StreamID `json:"stream_id"`
}

func streamCancelHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req streamCancelRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.StreamID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}
		if !deps.Streams.Cancel(req.StreamID) {
			return nil, domain.NewDomainError("stream.cancel", domain.ErrStreamNotFound, string(req.StreamID))
		}
		return json.Marshal(map[string]bool{"cancelled": true})
	}
}

func streamListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		streams := deps.Streams.Streams()
		if streams == nil {
			streams = []streaming.StreamInfo{}
		}
		return json.Marshal(streams)
	}
}

// --- connection test ---

type connectionTestResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// connectionTestHandler reports probe failures in the result; only an
// unresolvable target is an RPC error.
func connectionTestHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var target streamTarget
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &target); err != nil {
				return nil, domain.ErrRPCInvalidPayload
			}
		}
		desc, err := target.resolve(deps.Config, "", "")
		if err != nil {
			return nil, err
		}

		start := time.Now()
		err = deps.Tester.TestConnection(ctx, desc, deps.Config.Snapshot().Stream.ConnectionTestTimeout)
		resp := connectionTestResponse{OK: err == nil, ElapsedMS: time.Since(start).Milliseconds()}
		if err != nil {
			resp.Error = err.Error()
			resp.Code = string(domain.ErrorCodeOf(err))
		}
		return json.Marshal(resp)
	}
}

// --- config ---

// sanitizedConfig is the client view of the config: redacted keys, no
// gateway tokens.
type sanitizedConfig struct {
	Default   string            `json:"default"`
	Providers []providerSummary `json:"providers"`
	Stream    streamSummary     `json:"stream"`
}

type providerSummary struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	BaseURL       string `json:"base_url,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	Model         string `json:"model"`
	ContextWindow int    `json:"context_window,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
}

type streamSummary struct {
	ConnectionTestTimeoutMS int64 `json:"connection_test_timeout_ms"`
	CircuitBreaker          bool  `json:"circuit_breaker"`
}

func configGetHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		red := deps.Config.Snapshot().Redacted()
		cfg := sanitizedConfig{
			Default:   red.Default,
			Providers: make([]providerSummary, 0, len(red.Providers)),
			Stream: streamSummary{
				ConnectionTestTimeoutMS: red.Stream.ConnectionTestTimeout.Milliseconds(),
				CircuitBreaker:          red.Stream.CircuitBreaker.Enabled,
			},
		}
		for _, p := range red.Providers {
			cfg.Providers = append(cfg.Providers, providerSummary{
				Name:          p.Name,
				Type:          p.Type,
				BaseURL:       p.BaseURL,
				APIKey:        p.APIKey,
				Model:         p.Model,
				ContextWindow: p.ContextWindow,
				APIVersion:    p.APIVersion,
			})
		}
		return json.Marshal(cfg)
	}
}

type configSetDefaultRequest struct {
	Name string `json:"name"`
}

func configSetDefaultHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req configSetDefaultRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.Name == "" {
			return nil, domain.ErrRPCInvalidPayload
		}
		if err := deps.Config.SetDefault(req.Name); err != nil {
			return nil, err
		}
		deps.Logger.Info("default provider changed", "provider", req.Name, "client", client.Name)

		result, err := json.Marshal(map[string]string{"default": req.Name})
		if err != nil {
			return nil, err
		}
		if deps.Bus != nil {
			deps.Bus.Publish(ctx, domain.Event{
				Type:      domain.EventConfigChanged,
				Timestamp: time.Now(),
				Payload:   result,
			})
		}
		return result, nil
	}
}
