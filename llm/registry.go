package llm

import (
	"fmt"
	"sort"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// ProviderSettings holds the configuration a factory needs to construct a
// provider instance. Fields are provider-specific; factories ignore the ones
// they don't use.
type ProviderSettings struct {
	APIKey       string
	BaseURL      string // OpenAI-compatible servers (OpenRouter, llama.cpp)
	Host         string // Ollama
	Model        string
	Organization string // OpenAI
	TimeoutSecs  int
}

// ProviderFactory constructs a Provider from its settings.
type ProviderFactory func(settings ProviderSettings) (Provider, error)

// Registry maps provider names to factories. Adapters register themselves so
// fallback chains can be assembled from configuration by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Register adds a factory under the given name. Registering the same name
// twice is an error.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New constructs a provider by registry name.
func (r *Registry) New(name string, settings ProviderSettings) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (registered: %v)", name, r.Names())
	}
	return factory(settings)
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
