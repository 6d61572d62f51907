package llm

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"deltastream/internal/domain"
)

func TestAnthropicBuild(t *testing.T) {
	spec, err := AnthropicAdapter{}.Build(domain.RequestDescriptor{
		APIKey:       "sk-ant",
		Model:        "claude-sonnet-4-20250514",
		Prompt:       "Hi",
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.URL != "https://api.anthropic.com/v1/messages" {
		t.Errorf("URL = %q", spec.URL)
	}
	wantHeaders := map[string]string{
		"Accept":            "text/event-stream",
		"x-api-key":         "sk-ant",
		"anthropic-version": "2023-06-01",
	}
	if !reflect.DeepEqual(spec.Headers, wantHeaders) {
		t.Errorf("headers = %v", spec.Headers)
	}

	var body anthropicRequest
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.MaxTokens != 4096 || !body.Stream || body.System != "be brief" {
		t.Errorf("body = %+v", body)
	}
	if len(body.Messages) != 1 || body.Messages[0] != (anthropicMessage{Role: "user", Content: "Hi"}) {
		t.Errorf("messages = %+v", body.Messages)
	}
}

func TestAnthropicBuildAPIVersionOverride(t *testing.T) {
	spec, err := AnthropicAdapter{}.Build(domain.RequestDescriptor{BaseURL: "http://proxy", APIVersion: "2024-01-01", Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if spec.Headers["anthropic-version"] != "2024-01-01" {
		t.Errorf("anthropic-version = %q", spec.Headers["anthropic-version"])
	}
	if spec.URL != "http://proxy/v1/messages" {
		t.Errorf("URL = %q", spec.URL)
	}
}

func TestAnthropicBuildProbe(t *testing.T) {
	spec, err := AnthropicAdapter{}.BuildProbe(domain.RequestDescriptor{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	var body anthropicRequest
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.MaxTokens != 1 || body.Stream || body.Messages[0].Content != "Hi" {
		t.Errorf("body = %+v", body)
	}
}

func TestAnthropicDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		data string
		want *domain.VendorChunk
	}{
		{"text delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`, &domain.VendorChunk{Deltas: []string{"Hi"}}},
		{"message stop", `{"type":"message_stop"}`, &domain.VendorChunk{Done: true}},
		{"message start", `{"type":"message_start","message":{"id":"msg_1"}}`, nil},
		{"ping", `{"type":"ping"}`, nil},
		{"block stop", `{"type":"content_block_stop","index":0}`, nil},
		{"message delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`, nil},
		{"tool json delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{"}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AnthropicAdapter{}.DecodeLine([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeLine: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnthropicDecodeLineErrors(t *testing.T) {
	_, err := AnthropicAdapter{}.DecodeLine([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	var verr *domain.VendorError
	if !errors.As(err, &verr) || verr.Message != "Overloaded" {
		t.Errorf("vendor error = %v", err)
	}

	raw := `{"type":"error"}`
	_, err = AnthropicAdapter{}.DecodeLine([]byte(raw))
	if !errors.As(err, &verr) || verr.Message != raw {
		t.Errorf("bare error event = %v", err)
	}

	_, err = AnthropicAdapter{}.DecodeLine([]byte(`{"type":`))
	if !errors.Is(err, domain.ErrParse) {
		t.Errorf("malformed = %v, want ErrParse", err)
	}
}
