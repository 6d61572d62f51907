package llm

import (
	"encoding/json"
	"fmt"
	"net/url"

	"deltastream/internal/domain"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	geminiTemperature    = 0.3
)

// GeminiAdapter implements domain.StreamAdapter for the Google Gemini API.
// Gemini streams carry no terminal sentinel; the stream ends with the body.
type GeminiAdapter struct{}

// Kind implements domain.StreamAdapter.
func (GeminiAdapter) Kind() domain.ProviderKind { return domain.ProviderGemini }

// --- Gemini API wire types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      json.RawMessage   `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content *struct {
		Parts []struct {
			Text json.RawMessage `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

// --- Gemini streaming wire types ---

type geminiStreamChunk = geminiResponse // same shape as non-streaming

// Build implements domain.StreamAdapter.
func (a GeminiAdapter) Build(desc domain.RequestDescriptor) (domain.HTTPRequestSpec, error) {
	temperature := geminiTemperature
	req := geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: desc.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{Temperature: &temperature},
	}
	if desc.SystemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: desc.SystemPrompt}}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.HTTPRequestSpec{}, fmt.Errorf("marshal request: %w", err)
	}

	return domain.HTTPRequestSpec{
		URL: fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
			baseURL(desc.BaseURL, defaultGeminiBaseURL), desc.Model, url.QueryEscape(desc.APIKey)),
		Headers: map[string]string{"Accept": eventStreamContentType},
		Body:    body,
	}, nil
}

// BuildProbe implements domain.StreamAdapter.
func (a GeminiAdapter) BuildProbe(desc domain.RequestDescriptor) (domain.HTTPRequestSpec, error) {
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: probePrompt}}}},
		GenerationConfig: &geminiGenerationConfig{MaxOutputTokens: 1},
	})
	if err != nil {
		return domain.HTTPRequestSpec{}, fmt.Errorf("marshal request: %w", err)
	}

	return domain.HTTPRequestSpec{
		URL: fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
			baseURL(desc.BaseURL, defaultGeminiBaseURL), desc.Model, url.QueryEscape(desc.APIKey)),
		Headers: map[string]string{"Accept": "application/json"},
		Body:    body,
	}, nil
}

// DecodeLine implements domain.StreamAdapter. Every part of every candidate
// yields one delta, in encounter order.
func (a GeminiAdapter) DecodeLine(data []byte) (*domain.VendorChunk, error) {
	var chunk geminiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, parseError(err)
	}
	if verr, ok := vendorError(chunk.Error); ok {
		return nil, verr
	}

	texts := geminiTexts(chunk)
	if len(texts) == 0 {
		return nil, nil
	}
	return &domain.VendorChunk{Deltas: texts}, nil
}

func geminiTexts(resp geminiResponse) []string {
	var out []string
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if s, ok := rawString(p.Text); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// geminiFragments walks candidates[].content.parts[].text of a full body.
func geminiFragments(body []byte) []string {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	return geminiTexts(resp)
}
