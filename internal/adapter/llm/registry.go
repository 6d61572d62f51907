package llm

import (
	"fmt"
	"sort"
	"sync"

	"deltastream/internal/domain"
)

// Registry maps provider kinds to their stream adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ProviderKind]domain.StreamAdapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.ProviderKind]domain.StreamAdapter),
	}
}

// NewDefaultRegistry returns a registry holding the three built-in adapters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []domain.StreamAdapter{OpenAIAdapter{}, GeminiAdapter{}, AnthropicAdapter{}} {
		_ = r.Register(a) // kinds are distinct
	}
	return r
}

// Register adds an adapter. Returns error if its kind is already registered.
func (r *Registry) Register(adapter domain.StreamAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := adapter.Kind()
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("adapter %q already registered", kind)
	}
	r.adapters[kind] = adapter
	return nil
}

// Get retrieves the adapter for kind.
func (r *Registry) Get(kind domain.ProviderKind) (domain.StreamAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrUnsupportedProvider, string(kind))
	}
	return a, nil
}

// Resolve parses a configured provider type and returns its adapter.
func (r *Registry) Resolve(providerType string) (domain.StreamAdapter, error) {
	kind, err := domain.ParseProviderKind(providerType)
	if err != nil {
		return nil, err
	}
	return r.Get(kind)
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []domain.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.ProviderKind, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
