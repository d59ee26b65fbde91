package openai

import (
	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
)

// Register installs the OpenAI provider factory in the registry.
func Register(r *llm.Registry, logger zerolog.Logger) error {
	return r.Register(llm.ProviderOpenAI, func(settings llm.ProviderSettings) (llm.Provider, error) {
		return New(settings.APIKey, settings.BaseURL, settings.Model, settings.Organization, logger)
	})
}
