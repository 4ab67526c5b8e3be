package llm

import (
	"fmt"
	"sync"
)

// Factory builds a provider on first use.
type Factory func() (Provider, error)

// Registry maps model-selection tags to lazily built, cached providers.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	order     []string
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// Register adds or replaces the factory for name and drops any cached provider.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = f
	delete(r.providers, name)
}

// Get returns the provider for name, building it on first use.
// Construction errors are returned and not cached, so a later call can succeed
// once the environment is fixed.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
