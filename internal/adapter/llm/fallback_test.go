package llm

import (
	"errors"
	"reflect"
	"testing"

	"deltastream/internal/domain"
)

func TestDecodeFallback(t *testing.T) {
	tests := []struct {
		name string
		kind domain.ProviderKind
		body string
		want []string
	}{
		{"gemini parts", domain.ProviderGemini,
			`{"candidates":[{"content":{"parts":[{"text":"A"},{"text":"B"}]}}]}`, []string{"A", "B"}},
		{"openai message content", domain.ProviderOpenAI,
			`{"choices":[{"message":{"content":"one"}},{"message":{"content":"two"}}]}`, []string{"one", "two"}},
		{"openai legacy text", domain.ProviderOpenAI,
			`{"choices":[{"text":"legacy"}]}`, []string{"legacy"}},
		{"openai result response", domain.ProviderOpenAI,
			`{"result":{"response":"workers ai"}}`, []string{"workers ai"}},
		{"claude text blocks", domain.ProviderClaude,
			`{"content":[{"type":"text","text":"Hi"},{"type":"tool_use","id":"t"},{"type":"text","text":" there"}]}`, []string{"Hi", " there"}},
		{"null error ignored", domain.ProviderOpenAI,
			`{"error":null,"choices":[{"message":{"content":"ok"}}]}`, []string{"ok"}},
		{"unknown shape becomes raw", domain.ProviderGemini,
			`{"foo":1}`, []string{`{"foo":1}`}},
		{"not json becomes raw", domain.ProviderClaude,
			`plain text reply`, []string{"plain text reply"}},
		{"empty body", domain.ProviderOpenAI, ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFallback(tt.kind, []byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeFallback: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeFallbackVendorError(t *testing.T) {
	tests := []struct{ body, want string }{
		{`{"error":"bad key"}`, "bad key"},
		{`{"error":{"message":"model not found","code":404}}`, "model not found"},
		{`{"error":{"code":500}}`, `{"code":500}`},
		{`{"error":"bad key","choices":[{"message":{"content":"x"}}]}`, "bad key"},
	}
	for _, tt := range tests {
		body, want := tt.body, tt.want
		_, err := DecodeFallback(domain.ProviderOpenAI, []byte(body))
		var verr *domain.VendorError
		if !errors.As(err, &verr) {
			t.Errorf("%s: err = %v, want VendorError", body, err)
			continue
		}
		if verr.Message != want {
			t.Errorf("%s: message = %q, want %q", body, verr.Message, want)
		}
	}
}
