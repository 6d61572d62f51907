package llm

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"deltastream/internal/domain"
)

func TestOpenAIBuild(t *testing.T) {
	spec, err := OpenAIAdapter{}.Build(domain.RequestDescriptor{
		BaseURL:      "http://local/v1/",
		APIKey:       "sk-test",
		Model:        "gpt-4o",
		Prompt:       "Hi",
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.URL != "http://local/v1/chat/completions" {
		t.Errorf("URL = %q", spec.URL)
	}
	if spec.Headers["Authorization"] != "Bearer sk-test" {
		t.Errorf("Authorization = %q", spec.Headers["Authorization"])
	}
	if spec.Headers["Accept"] != "text/event-stream" {
		t.Errorf("Accept = %q", spec.Headers["Accept"])
	}

	var body openaiRequest
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Model != "gpt-4o" || !body.Stream {
		t.Errorf("body = %+v", body)
	}
	if body.Temperature == nil || *body.Temperature != 0.3 {
		t.Errorf("temperature = %v", body.Temperature)
	}
	want := []openaiMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "Hi"}}
	if !reflect.DeepEqual(body.Messages, want) {
		t.Errorf("messages = %+v", body.Messages)
	}
}

func TestOpenAIBuildDefaultsAndNoKey(t *testing.T) {
	spec, err := OpenAIAdapter{}.Build(domain.RequestDescriptor{Model: "llama3", Prompt: "Hi"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("URL = %q", spec.URL)
	}
	if _, ok := spec.Headers["Authorization"]; ok {
		t.Error("Authorization header set without a key")
	}
}

func TestOpenAIBuildProbe(t *testing.T) {
	spec, err := OpenAIAdapter{}.BuildProbe(domain.RequestDescriptor{Model: "gpt-4o", APIKey: "k", Prompt: "ignored"})
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["max_tokens"] != float64(1) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	if _, ok := body["stream"]; ok {
		t.Error("probe must not stream")
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["content"] != "Hi" {
		t.Errorf("messages = %v", msgs)
	}
	if spec.Headers["Accept"] != "application/json" {
		t.Errorf("Accept = %q", spec.Headers["Accept"])
	}
}

func TestOpenAIDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		data string
		want *domain.VendorChunk
	}{
		{"done sentinel", `[DONE]`, &domain.VendorChunk{Done: true}},
		{"content", `{"choices":[{"delta":{"content":"Hi"}}]}`, &domain.VendorChunk{Deltas: []string{"Hi"}}},
		{"content with finish", `{"choices":[{"delta":{"content":"x"},"finish_reason":"stop"}]}`, &domain.VendorChunk{Deltas: []string{"x"}, Done: true}},
		{"finish only", `{"choices":[{"delta":{},"finish_reason":"length"}]}`, &domain.VendorChunk{Done: true}},
		{"choices after finish ignored", `{"choices":[{"delta":{"content":"a"},"finish_reason":"stop"},{"delta":{"content":"b"}}]}`, &domain.VendorChunk{Deltas: []string{"a"}, Done: true}},
		{"empty content kept", `{"choices":[{"delta":{"content":""}}]}`, &domain.VendorChunk{Deltas: []string{""}}},
		{"role only", `{"choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}`, nil},
		{"no choices", `{"choices":[]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OpenAIAdapter{}.DecodeLine([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeLine: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOpenAIDecodeLineErrors(t *testing.T) {
	_, err := OpenAIAdapter{}.DecodeLine([]byte(`{"error":{"message":"quota exceeded"}}`))
	var verr *domain.VendorError
	if !errors.As(err, &verr) || verr.Message != "quota exceeded" {
		t.Errorf("vendor error = %v", err)
	}

	_, err = OpenAIAdapter{}.DecodeLine([]byte(`{not json`))
	if !errors.Is(err, domain.ErrParse) {
		t.Errorf("malformed = %v, want ErrParse", err)
	}
}
