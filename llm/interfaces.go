package llm

import (
	"context"
)

// Provider is the provider-neutral interface for chat-completion backends.
// Implementations handle provider-specific wire formats internally and map
// failures to *Error values from this package.
type Provider interface {
	// Name returns the provider's registry name, e.g. "anthropic".
	// Names are not required to be unique within a fallback chain.
	Name() string

	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)

	// ChatStream sends a request and returns a stream of chunks.
	// The caller should read from the returned Stream until it's done or an
	// error occurs, then Close it.
	ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (Stream, error)

	// SupportsStreaming reports whether ChatStream is implemented.
	SupportsStreaming() bool

	// SupportsToolCalling reports whether the provider accepts tool specs.
	SupportsToolCalling() bool

	// DefaultModel returns the model used when ChatOptions.Model is empty.
	DefaultModel() string
}

// Stream represents a streaming response from an LLM.
type Stream interface {
	// Next advances to the next chunk in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Chunk returns the current chunk.
	// Should only be called after Next() returns true.
	Chunk() *Chunk

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}
