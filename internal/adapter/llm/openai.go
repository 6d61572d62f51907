package llm

import (
	"encoding/json"
	"fmt"

	"deltastream/internal/domain"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	openAITemperature    = 0.3
	doneSentinel         = "[DONE]"
)

// OpenAIAdapter implements domain.StreamAdapter for any OpenAI-compatible
// chat completions API (OpenAI, Ollama, DeepSeek, Moonshot, ...).
type OpenAIAdapter struct{}

// Kind implements domain.StreamAdapter.
func (OpenAIAdapter) Kind() domain.ProviderKind { return domain.ProviderOpenAI }

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Build implements domain.StreamAdapter.
func (a OpenAIAdapter) Build(desc domain.RequestDescriptor) (domain.HTTPRequestSpec, error) {
	temperature := openAITemperature
	body, err := json.Marshal(openaiRequest{
		Model:       desc.Model,
		Messages:    openaiMessages(desc),
		Stream:      true,
		Temperature: &temperature,
	})
	if err != nil {
		return domain.HTTPRequestSpec{}, fmt.Errorf("marshal request: %w", err)
	}
	return domain.HTTPRequestSpec{
		URL:     baseURL(desc.BaseURL, defaultOpenAIBaseURL) + "/chat/completions",
		Headers: openaiHeaders(desc.APIKey, eventStreamContentType),
		Body:    body,
	}, nil
}

// BuildProbe implements domain.StreamAdapter.
func (a OpenAIAdapter) BuildProbe(desc domain.RequestDescriptor) (domain.HTTPRequestSpec, error) {
	body, err := json.Marshal(openaiRequest{
		Model:     desc.Model,
		Messages:  []openaiMessage{{Role: "user", Content: probePrompt}},
		MaxTokens: 1,
	})
	if err != nil {
		return domain.HTTPRequestSpec{}, fmt.Errorf("marshal request: %w", err)
	}
	return domain.HTTPRequestSpec{
		URL:     baseURL(desc.BaseURL, defaultOpenAIBaseURL) + "/chat/completions",
		Headers: openaiHeaders(desc.APIKey, "application/json"),
		Body:    body,
	}, nil
}

func openaiMessages(desc domain.RequestDescriptor) []openaiMessage {
	msgs := make([]openaiMessage, 0, 2)
	if desc.SystemPrompt != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: desc.SystemPrompt})
	}
	return append(msgs, openaiMessage{Role: "user", Content: desc.Prompt})
}

// Key-less local servers (Ollama, llama.cpp) get no Authorization header.
func openaiHeaders(apiKey, accept string) map[string]string {
	headers := map[string]string{"Accept": accept}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Error   json.RawMessage      `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        *openaiStreamDelta `json:"delta"`
	FinishReason *string            `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content *string `json:"content"`
}

// DecodeLine implements domain.StreamAdapter. "[DONE]" and a non-null
// finish_reason are both terminal; choices after the finishing one are ignored.
func (a OpenAIAdapter) DecodeLine(data []byte) (*domain.VendorChunk, error) {
	if string(data) == doneSentinel {
		return &domain.VendorChunk{Done: true}, nil
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, parseError(err)
	}
	if verr, ok := vendorError(chunk.Error); ok {
		return nil, verr
	}

	out := &domain.VendorChunk{}
	for _, c := range chunk.Choices {
		if c.Delta != nil && c.Delta.Content != nil {
			out.Deltas = append(out.Deltas, *c.Delta.Content)
		}
		if c.FinishReason != nil {
			out.Done = true
			break
		}
	}
	if len(out.Deltas) == 0 && !out.Done {
		return nil, nil
	}
	return out, nil
}

// --- OpenAI non-streaming wire types (fallback decoding) ---

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Result  *struct {
		Response json.RawMessage `json:"response"`
	} `json:"result"`
}

type openaiChoice struct {
	Message *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	Text json.RawMessage `json:"text"`
}

// openaiFragments walks choices[].message.content, else choices[].text,
// else result.response.
func openaiFragments(body []byte) []string {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}

	var out []string
	for _, c := range resp.Choices {
		if c.Message == nil {
			continue
		}
		if s, ok := rawString(c.Message.Content); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, c := range resp.Choices {
		if s, ok := rawString(c.Text); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}

	if resp.Result != nil {
		if s, ok := rawString(resp.Result.Response); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
