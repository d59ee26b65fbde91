package ollama

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
)

// Register installs the Ollama provider factory in the registry.
func Register(r *llm.Registry, logger zerolog.Logger) error {
	return r.Register(llm.ProviderOllama, func(settings llm.ProviderSettings) (llm.Provider, error) {
		return New(settings.Host, settings.Model, logger)
	})
}
