package llm

import (
	"encoding/json"
	"fmt"

	"deltastream/internal/domain"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicAdapter implements domain.StreamAdapter for the Anthropic
// Messages API (provider kind "claude").
type AnthropicAdapter struct{}

// Kind implements domain.StreamAdapter.
func (AnthropicAdapter) Kind() domain.ProviderKind { return domain.ProviderClaude }

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string          `json:"type"`
	Text json.RawMessage `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

// Build implements domain.StreamAdapter.
func (a AnthropicAdapter) Build(desc domain.RequestDescriptor) (domain.HTTPRequestSpec, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     desc.Model,
		MaxTokens: defaultAnthropicMaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: desc.Prompt}},
		Stream:    true,
		System:    desc.SystemPrompt,
	})
	if err != nil {
		return domain.HTTPRequestSpec{}, fmt.Errorf("marshal request: %w", err)
	}
	return domain.HTTPRequestSpec{
		URL:     baseURL(desc.BaseURL, defaultAnthropicBaseURL) + "/v1/messages",
		Headers: anthropicHeaders(desc, eventStreamContentType),
		Body:    body,
	}, nil
}

// BuildProbe implements domain.StreamAdapter.
func (a AnthropicAdapter) BuildProbe(desc domain.RequestDescriptor) (domain.HTTPRequestSpec, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     desc.Model,
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: probePrompt}},
	})
	if err != nil {
		return domain.HTTPRequestSpec{}, fmt.Errorf("marshal request: %w", err)
	}
	return domain.HTTPRequestSpec{
		URL:     baseURL(desc.BaseURL, defaultAnthropicBaseURL) + "/v1/messages",
		Headers: anthropicHeaders(desc, "application/json"),
		Body:    body,
	}, nil
}

func anthropicHeaders(desc domain.RequestDescriptor, accept string) map[string]string {
	version := desc.APIVersion
	if version == "" {
		version = defaultAnthropicVersion
	}
	return map[string]string{
		"Accept":            accept,
		"x-api-key":         desc.APIKey,
		"anthropic-version": version,
	}
}

// --- Anthropic streaming wire types ---

// The SSE stream pairs "event: <type>" with "data: <json>" lines. Only data
// lines reach DecodeLine, and their JSON repeats the type in "type".
type anthropicStreamEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

type anthropicDeltaText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DecodeLine implements domain.StreamAdapter.
func (a AnthropicAdapter) DecodeLine(data []byte) (*domain.VendorChunk, error) {
	var evt anthropicStreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, parseError(err)
	}

	switch evt.Type {
	case "content_block_delta":
		var td anthropicDeltaText
		if err := json.Unmarshal(evt.Delta, &td); err != nil {
			return nil, parseError(err)
		}
		if td.Text == "" {
			return nil, nil
		}
		return &domain.VendorChunk{Deltas: []string{td.Text}}, nil

	case "message_stop":
		return &domain.VendorChunk{Done: true}, nil

	case "error":
		if verr, ok := vendorError(evt.Error); ok {
			return nil, verr
		}
		return nil, &domain.VendorError{Message: string(data)}

	default:
		return nil, nil
	}
}

// anthropicFragments walks content[].text of a full Messages response.
func anthropicFragments(body []byte) []string {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	var out []string
	for _, block := range resp.Content {
		if block.Type != "" && block.Type != "text" {
			continue
		}
		if s, ok := rawString(block.Text); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
