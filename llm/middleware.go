package llm

import (
	"context"
)

// Middleware provides hooks for decorating Provider calls.
// This allows adding cross-cutting concerns like logging, metrics, or
// request rewriting without changing provider implementations.
type Middleware interface {
	// BeforeChat is called before making an API request.
	// It can modify the messages/options or return an error to abort.
	BeforeChat(ctx context.Context, messages []Message, opts *ChatOptions) ([]Message, *ChatOptions, error)

	// AfterChat is called after receiving a response.
	// It can modify the response or return an error.
	AfterChat(ctx context.Context, resp *Response) (*Response, error)

	// OnError is called when a provider call fails.
	// It can return a modified error or nil to swallow the error, in which
	// case the caller receives the original.
	OnError(ctx context.Context, err error) error
}

// MiddlewareFunc is a struct of function fields that implements Middleware.
type MiddlewareFunc struct {
	BeforeChatFunc func(ctx context.Context, messages []Message, opts *ChatOptions) ([]Message, *ChatOptions, error)
	AfterChatFunc  func(ctx context.Context, resp *Response) (*Response, error)
	OnErrorFunc    func(ctx context.Context, err error) error
}

// BeforeChat calls the BeforeChatFunc if set.
func (f MiddlewareFunc) BeforeChat(ctx context.Context, messages []Message, opts *ChatOptions) ([]Message, *ChatOptions, error) {
	if f.BeforeChatFunc != nil {
		return f.BeforeChatFunc(ctx, messages, opts)
	}
	return messages, opts, nil
}

// AfterChat calls the AfterChatFunc if set.
func (f MiddlewareFunc) AfterChat(ctx context.Context, resp *Response) (*Response, error) {
	if f.AfterChatFunc != nil {
		return f.AfterChatFunc(ctx, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, err)
	}
	return err
}

// WrapWithMiddleware wraps a Provider with middleware and returns a new
// Provider. Streaming calls pass through BeforeChat only; chunk-level hooks
// are not supported.
func WrapWithMiddleware(provider Provider, middleware ...Middleware) Provider {
	if len(middleware) == 0 {
		return provider
	}
	return &providerWithMiddleware{
		provider:   provider,
		middleware: middleware,
	}
}

type providerWithMiddleware struct {
	provider   Provider
	middleware []Middleware
}

func (p *providerWithMiddleware) Name() string              { return p.provider.Name() }
func (p *providerWithMiddleware) SupportsStreaming() bool   { return p.provider.SupportsStreaming() }
func (p *providerWithMiddleware) SupportsToolCalling() bool { return p.provider.SupportsToolCalling() }
func (p *providerWithMiddleware) DefaultModel() string      { return p.provider.DefaultModel() }

// Chat implements Provider.Chat with middleware support.
func (p *providerWithMiddleware) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	var err error
	for _, mw := range p.middleware {
		messages, opts, err = mw.BeforeChat(ctx, messages, opts)
		if err != nil {
			return nil, err
		}
	}

	resp, err := p.provider.Chat(ctx, messages, opts)
	if err != nil {
		for _, mw := range p.middleware {
			if replaced := mw.OnError(ctx, err); replaced != nil {
				err = replaced
			}
		}
		return nil, err
	}

	for i := len(p.middleware) - 1; i >= 0; i-- {
		resp, err = p.middleware[i].AfterChat(ctx, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// ChatStream implements Provider.ChatStream with middleware support.
func (p *providerWithMiddleware) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (Stream, error) {
	var err error
	for _, mw := range p.middleware {
		messages, opts, err = mw.BeforeChat(ctx, messages, opts)
		if err != nil {
			return nil, err
		}
	}

	stream, err := p.provider.ChatStream(ctx, messages, opts)
	if err != nil {
		for _, mw := range p.middleware {
			if replaced := mw.OnError(ctx, err); replaced != nil {
				err = replaced
			}
		}
		return nil, err
	}
	return stream, nil
}

var _ Provider = (*providerWithMiddleware)(nil)
