package anthropic

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
)

// Register installs the Anthropic provider factory in the registry.
func Register(r *llm.Registry, logger zerolog.Logger) error {
	return r.Register(llm.ProviderAnthropic, func(settings llm.ProviderSettings) (llm.Provider, error) {
		return New(settings.APIKey, settings.Model, logger)
	})
}
