package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// FallbackResult records how one logical request moved through a fallback
// chain. A fresh result is built per call and published read-only once the
// call reaches a successful or terminal outcome.
type FallbackResult struct {
	// Response is the successful response, nil if every provider failed.
	Response *Response
	// ProviderUsed is the name of the provider that served the request.
	// Non-empty iff Response is non-nil.
	ProviderUsed string
	// ProvidersTried lists provider names in attempt order, duplicates kept.
	ProvidersTried []string
	// Errors maps provider name to the error it failed with. When two
	// providers in the chain share a name, the later error wins.
	Errors map[string]error
}

// FallbackOption configures a FallbackProvider.
type FallbackOption func(*FallbackProvider)

// WithRetryConfig enables per-provider retry with the given config.
func WithRetryConfig(cfg RetryConfig) FallbackOption {
	return func(f *FallbackProvider) {
		f.retryConfig = &cfg
	}
}

// WithoutPerProviderRetry disables the per-provider retry wrapper even when
// a retry config is set.
func WithoutPerProviderRetry() FallbackOption {
	return func(f *FallbackProvider) {
		f.retryPerProvider = false
	}
}

// WithFallbackOn replaces the default set of error types that trigger
// advancement to the next provider. The default is {rate_limit, timeout}.
// Generic API errors advance based on their retryable flag regardless of
// this set; authentication and validation errors never advance.
func WithFallbackOn(types ...ErrorType) FallbackOption {
	return func(f *FallbackProvider) {
		f.fallbackOn = make(map[ErrorType]bool, len(types))
		for _, t := range types {
			f.fallbackOn[t] = true
		}
	}
}

// FallbackProvider presents a single provider-shaped interface backed by an
// ordered list of concrete providers. For each logical request it tries the
// providers in order, optionally wrapping every attempt in the retry policy,
// and uses error classification to decide whether to advance or abort.
type FallbackProvider struct {
	providers        []Provider
	retryPerProvider bool
	retryConfig      *RetryConfig
	fallbackOn       map[ErrorType]bool
	logger           zerolog.Logger

	mu         sync.RWMutex
	lastResult *FallbackResult
}

// NewFallbackProvider creates a FallbackProvider over the given providers.
// At least one provider is required.
func NewFallbackProvider(logger zerolog.Logger, providers []Provider, opts ...FallbackOption) (*FallbackProvider, error) {
	if len(providers) == 0 {
		return nil, NewValidationError("fallback", "at least one provider is required")
	}

	f := &FallbackProvider{
		providers:        providers,
		retryPerProvider: true,
		fallbackOn: map[ErrorType]bool{
			ErrorTypeRateLimit: true,
			ErrorTypeTimeout:   true,
		},
		logger: logger.With().Str("component", "fallbackProvider").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Name implements Provider.Name.
func (f *FallbackProvider) Name() string { return "fallback" }

// SupportsStreaming reports whether any provider in the chain streams.
func (f *FallbackProvider) SupportsStreaming() bool {
	for _, p := range f.providers {
		if p.SupportsStreaming() {
			return true
		}
	}
	return false
}

// SupportsToolCalling reports whether any provider in the chain supports tools.
func (f *FallbackProvider) SupportsToolCalling() bool {
	for _, p := range f.providers {
		if p.SupportsToolCalling() {
			return true
		}
	}
	return false
}

// DefaultModel returns the primary provider's default model.
func (f *FallbackProvider) DefaultModel() string {
	return f.providers[0].DefaultModel()
}

// Providers returns the names of the configured providers in order.
func (f *FallbackProvider) Providers() []string {
	return lo.Map(f.providers, func(p Provider, _ int) string { return p.Name() })
}

// LastResult returns the result of the most recent completed call, nil if no
// call has reached a successful or terminal outcome yet.
func (f *FallbackProvider) LastResult() *FallbackResult {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastResult
}

// LastProviderUsed returns the name of the provider that served the most
// recent successful call.
func (f *FallbackProvider) LastProviderUsed() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastResult == nil {
		return ""
	}
	return f.lastResult.ProviderUsed
}

func (f *FallbackProvider) publish(result *FallbackResult) {
	f.mu.Lock()
	f.lastResult = result
	f.mu.Unlock()
}

// shouldFallback reports whether a classified error permits advancing to the
// next provider rather than propagating to the caller.
func (f *FallbackProvider) shouldFallback(ce *Error) bool {
	switch ce.Type {
	case ErrorTypeAuth, ErrorTypeValidation:
		return false
	case ErrorTypeAPI:
		return ce.Retryable
	default:
		return f.fallbackOn[ce.Type]
	}
}

// attempt invokes one provider's Chat, wrapped in the retry policy when
// per-provider retry is enabled and a retry config is set.
func (f *FallbackProvider) attempt(ctx context.Context, p Provider, messages []Message, opts *ChatOptions) (*Response, error) {
	if f.retryPerProvider && f.retryConfig != nil {
		return WithRetry(ctx, f.logger, *f.retryConfig, p.Name(), func(ctx context.Context) (*Response, error) {
			return p.Chat(ctx, messages, opts)
		})
	}
	return p.Chat(ctx, messages, opts)
}

// Chat implements Provider.Chat by trying each provider in order.
func (f *FallbackProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	result := &FallbackResult{Errors: make(map[string]error)}

	for _, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.ProvidersTried = append(result.ProvidersTried, p.Name())

		resp, err := f.attempt(ctx, p, messages, opts)
		if err == nil {
			result.Response = resp
			result.ProviderUsed = p.Name()
			f.publish(result)
			return resp, nil
		}

		// Authentication failures are terminal regardless of the fallback
		// set; surface the classified error itself, not the retry wrapper.
		var authErr *Error
		if errors.As(err, &authErr) && authErr.Type == ErrorTypeAuth {
			f.publish(result)
			return nil, authErr
		}

		result.Errors[p.Name()] = err
		ce := Classify(p.Name(), err)
		if !f.shouldFallback(ce) {
			f.publish(result)
			return nil, err
		}

		f.logger.Warn().
			Str("provider", p.Name()).
			Str("error_type", string(ce.Type)).
			Err(err).
			Msg("Provider failed, falling back to next provider")
	}

	f.publish(result)
	return nil, &AllProvidersFailedError{
		ProvidersTried: result.ProvidersTried,
		Errors:         result.Errors,
	}
}

// ChatStream implements Provider.ChatStream. Providers are opened lazily and
// advancement is only legal before the first chunk has been delivered
// downstream; once partial output has been observed, stream errors propagate
// directly. Providers without streaming support are skipped without being
// recorded as failures.
func (f *FallbackProvider) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (Stream, error) {
	eligible := lo.Filter(f.providers, func(p Provider, _ int) bool { return p.SupportsStreaming() })
	if len(eligible) == 0 {
		return nil, NewValidationError("fallback", "no provider supports streaming")
	}

	return &fallbackStream{
		parent:    f,
		ctx:       ctx,
		messages:  messages,
		opts:      opts,
		remaining: eligible,
		result:    &FallbackResult{Errors: make(map[string]error)},
	}, nil
}

// fallbackStream trials providers one at a time, switching to the next only
// while no chunk has been delivered to the caller.
type fallbackStream struct {
	parent    *FallbackProvider
	ctx       context.Context
	messages  []Message
	opts      *ChatOptions
	remaining []Provider
	result    *FallbackResult

	current     Stream
	currentName string
	chunk       *Chunk
	delivered   bool
	err         error
	done        bool
}

// Next implements Stream.Next.
func (s *fallbackStream) Next() bool {
	for {
		if s.done {
			return false
		}
		if err := s.ctx.Err(); err != nil {
			s.err = err
			s.done = true
			return false
		}

		if s.current == nil {
			if !s.openNext() {
				return false
			}
		}

		if s.current.Next() {
			s.chunk = s.current.Chunk()
			if !s.delivered {
				s.delivered = true
				s.result.ProviderUsed = s.currentName
				s.parent.publish(s.result)
			}
			return true
		}

		streamErr := s.current.Err()
		if streamErr == nil {
			// Clean end of stream.
			s.done = true
			return false
		}
		if s.delivered {
			// Partial output has been observed; cannot silently switch.
			s.err = streamErr
			s.done = true
			return false
		}
		if !s.failCurrent(streamErr) {
			return false
		}
	}
}

// openNext opens the next eligible provider's stream. Returns false when the
// stream has reached a terminal state.
func (s *fallbackStream) openNext() bool {
	for len(s.remaining) > 0 {
		p := s.remaining[0]
		s.remaining = s.remaining[1:]
		s.result.ProvidersTried = append(s.result.ProvidersTried, p.Name())

		stream, err := p.ChatStream(s.ctx, s.messages, s.opts)
		if err == nil {
			s.current = stream
			s.currentName = p.Name()
			return true
		}
		s.currentName = p.Name()
		s.current = nil
		if !s.recordFailure(p.Name(), err) {
			return false
		}
	}

	s.exhaust()
	return false
}

// failCurrent handles a pre-first-chunk failure of the active stream.
// Returns false when the stream has reached a terminal state.
func (s *fallbackStream) failCurrent(err error) bool {
	_ = s.current.Close()
	s.current = nil
	if !s.recordFailure(s.currentName, err) {
		return false
	}
	if len(s.remaining) == 0 {
		s.exhaust()
		return false
	}
	return true
}

// recordFailure classifies a provider failure and decides whether the chain
// may advance. Returns false on a terminal error.
func (s *fallbackStream) recordFailure(name string, err error) bool {
	var authErr *Error
	if errors.As(err, &authErr) && authErr.Type == ErrorTypeAuth {
		s.parent.publish(s.result)
		s.err = authErr
		s.done = true
		return false
	}

	s.result.Errors[name] = err
	ce := Classify(name, err)
	if !s.parent.shouldFallback(ce) {
		s.parent.publish(s.result)
		s.err = err
		s.done = true
		return false
	}

	s.parent.logger.Warn().
		Str("provider", name).
		Str("error_type", string(ce.Type)).
		Err(err).
		Msg("Streaming provider failed before first chunk, falling back")
	return true
}

func (s *fallbackStream) exhaust() {
	s.parent.publish(s.result)
	s.err = &AllProvidersFailedError{
		ProvidersTried: s.result.ProvidersTried,
		Errors:         s.result.Errors,
	}
	s.done = true
}

// Chunk implements Stream.Chunk.
func (s *fallbackStream) Chunk() *Chunk {
	return s.chunk
}

// Err implements Stream.Err.
func (s *fallbackStream) Err() error {
	return s.err
}

// Close implements Stream.Close.
func (s *fallbackStream) Close() error {
	s.done = true
	if s.current != nil {
		return s.current.Close()
	}
	return nil
}

var _ Provider = (*FallbackProvider)(nil)
var _ Stream = (*fallbackStream)(nil)
