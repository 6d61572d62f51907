package domain

import (
	"context"
	"fmt"
	"strings"
)

// ProviderKind is the closed set of supported vendor wire protocols.
type ProviderKind string

const (
	ProviderOpenAI ProviderKind = "openai"
	ProviderGemini ProviderKind = "gemini"
	ProviderClaude ProviderKind = "claude"
)

// ProviderKinds lists every supported kind.
var ProviderKinds = []ProviderKind{ProviderOpenAI, ProviderGemini, ProviderClaude}

// ParseProviderKind maps a configured provider type to its kind.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, nil
	case "gemini":
		return ProviderGemini, nil
	case "claude", "anthropic":
		return ProviderClaude, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, s)
	}
}

// RequestDescriptor describes one streaming request. Provider holds the raw
// provider type so an unknown kind surfaces as a terminal stream error.
type RequestDescriptor struct {
	Provider     string `json:"provider_type"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	APIVersion   string `json:"api_version,omitempty"`
}

// HTTPRequestSpec is the vendor request produced by an adapter's Build step.
type HTTPRequestSpec struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// StreamAdapter is the per-vendor strategy: request construction plus
// decoding of one SSE data payload (the "data: " prefix already stripped).
type StreamAdapter interface {
	Kind() ProviderKind
	Build(desc RequestDescriptor) (HTTPRequestSpec, error)
	// DecodeLine returns nil, nil for payloads that carry nothing of interest.
	DecodeLine(data []byte) (*VendorChunk, error)
	// BuildProbe builds the minimal non-streaming request used by connection tests.
	BuildProbe(desc RequestDescriptor) (HTTPRequestSpec, error)
}

// ChunkObserver receives the decoded output of one vendor exchange.
type ChunkObserver interface {
	// Phase reports Connecting, then Streaming or BatchParsing.
	Phase(p StreamPhase)
	// Chunk delivers one decoded payload; a Done chunk is the last one.
	Chunk(c VendorChunk)
	// Dropped reports a data line that failed to decode and was skipped.
	Dropped(data []byte, err error)
}

// Streamer performs one vendor exchange for desc. It returns nil when the
// body was consumed (whether or not a terminal chunk was seen) and an error
// for any failure that ends the stream.
type Streamer interface {
	Stream(ctx context.Context, desc RequestDescriptor, obs ChunkObserver) error
}
