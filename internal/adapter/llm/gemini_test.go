package llm

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"deltastream/internal/domain"
)

func TestGeminiBuild(t *testing.T) {
	spec, err := GeminiAdapter{}.Build(domain.RequestDescriptor{
		BaseURL:      "http://g/",
		APIKey:       "a b&c",
		Model:        "gemini-1.5-flash",
		Prompt:       "Hi",
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "http://g/v1beta/models/gemini-1.5-flash:streamGenerateContent?key=a+b%26c&alt=sse"
	if spec.URL != want {
		t.Errorf("URL = %q, want %q", spec.URL, want)
	}
	if _, ok := spec.Headers["Authorization"]; ok {
		t.Error("gemini authenticates by query parameter only")
	}

	var body geminiRequest
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Contents) != 1 || body.Contents[0].Parts[0].Text != "Hi" {
		t.Errorf("contents = %+v", body.Contents)
	}
	if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("systemInstruction = %+v", body.SystemInstruction)
	}
	if body.GenerationConfig == nil || *body.GenerationConfig.Temperature != 0.3 {
		t.Errorf("generationConfig = %+v", body.GenerationConfig)
	}
}

func TestGeminiBuildProbe(t *testing.T) {
	spec, err := GeminiAdapter{}.BuildProbe(domain.RequestDescriptor{APIKey: "k", Model: "gemini-pro"})
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}
	if spec.URL != "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent?key=k" {
		t.Errorf("URL = %q", spec.URL)
	}
	var body geminiRequest
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.GenerationConfig.MaxOutputTokens != 1 || body.Contents[0].Parts[0].Text != "Hi" {
		t.Errorf("body = %+v", body)
	}
}

func TestGeminiDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		data string
		want *domain.VendorChunk
	}{
		{"single part", `{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`, &domain.VendorChunk{Deltas: []string{"Hel"}}},
		{"parts and candidates in order",
			`{"candidates":[{"content":{"parts":[{"text":"A"},{"text":"B"}]}},{"content":{"parts":[{"text":"C"}]}}]}`,
			&domain.VendorChunk{Deltas: []string{"A", "B", "C"}}},
		{"finish metadata only", `{"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":3}}`, nil},
		{"empty", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GeminiAdapter{}.DecodeLine([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeLine: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGeminiDecodeLineNeverDone(t *testing.T) {
	got, err := GeminiAdapter{}.DecodeLine([]byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"STOP"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Done {
		t.Error("gemini chunks never signal done; the body end does")
	}
}

func TestGeminiDecodeLineErrors(t *testing.T) {
	_, err := GeminiAdapter{}.DecodeLine([]byte(`{"error":{"code":400,"message":"API key not valid"}}`))
	var verr *domain.VendorError
	if !errors.As(err, &verr) || verr.Message != "API key not valid" {
		t.Errorf("vendor error = %v", err)
	}

	_, err = GeminiAdapter{}.DecodeLine([]byte(`[{"candidates"`))
	if !errors.Is(err, domain.ErrParse) {
		t.Errorf("malformed = %v, want ErrParse", err)
	}
}
