package llm

import (
	"encoding/json"

	"deltastream/internal/domain"
)

// DecodeFallback turns a complete non-streaming body into the deltas it
// carries, in document order. A top-level "error" member fails with a
// *domain.VendorError. When the provider's success shape yields nothing, the
// raw body is returned as the single fragment so no response is dropped.
func DecodeFallback(kind domain.ProviderKind, body []byte) ([]string, error) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return rawFallback(body), nil
	}
	if verr, ok := vendorError(envelope.Error); ok {
		return nil, verr
	}

	var fragments []string
	switch kind {
	case domain.ProviderOpenAI:
		fragments = openaiFragments(body)
	case domain.ProviderGemini:
		fragments = geminiFragments(body)
	case domain.ProviderClaude:
		fragments = anthropicFragments(body)
	}
	if len(fragments) == 0 {
		return rawFallback(body), nil
	}
	return fragments, nil
}

func rawFallback(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	return []string{string(body)}
}
