package llm

import (
	"errors"
	"reflect"
	"testing"

	"deltastream/internal/domain"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	want := []domain.ProviderKind{domain.ProviderClaude, domain.ProviderGemini, domain.ProviderOpenAI}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	for typ, kind := range map[string]domain.ProviderKind{
		"openai":    domain.ProviderOpenAI,
		"Gemini":    domain.ProviderGemini,
		"claude":    domain.ProviderClaude,
		"anthropic": domain.ProviderClaude,
	} {
		a, err := r.Resolve(typ)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", typ, err)
		}
		if a.Kind() != kind {
			t.Errorf("Resolve(%q).Kind() = %s, want %s", typ, a.Kind(), kind)
		}
	}
}

func TestRegistryUnsupported(t *testing.T) {
	r := NewDefaultRegistry()
	if _, err := r.Resolve("cohere"); !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Errorf("Resolve(cohere) = %v", err)
	}

	empty := NewRegistry()
	if _, err := empty.Get(domain.ProviderOpenAI); !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Errorf("empty Get = %v", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(OpenAIAdapter{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(OpenAIAdapter{}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
