// Package llm provides a provider-neutral interface for chat-completion
// backends, plus the cross-cutting machinery layered on top of it: a shared
// error taxonomy, a retry policy with exponential backoff, and a fallback
// orchestrator that tries an ordered list of providers for each request.
//
// Provider adapters live in subpackages (anthropic, openai, ollama) and
// register themselves with a Registry so chains can be assembled by name
// from configuration.
package llm
