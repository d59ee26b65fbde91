package llm

import (
	"context"
	"errors"
	"testing"
)

func TestWrapWithMiddlewareNoMiddlewareReturnsProvider(t *testing.T) {
	p := succeeding("a")
	if WrapWithMiddleware(p) != Provider(p) {
		t.Error("wrapping with no middleware should return the provider unchanged")
	}
}

func TestMiddlewareBeforeChatRewritesRequest(t *testing.T) {
	var seen []Message
	p := &fakeProvider{name: "a", results: []fakeResult{{resp: &Response{Content: "ok"}}}}

	wrapped := WrapWithMiddleware(capturingProvider{p, &seen}, MiddlewareFunc{
		BeforeChatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) ([]Message, *ChatOptions, error) {
			return append(messages, NewUserMessage("injected")), opts, nil
		},
	})

	_, err := wrapped.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[1].Content != "injected" {
		t.Errorf("provider saw %v", seen)
	}
}

// capturingProvider records the messages the underlying provider receives.
type capturingProvider struct {
	*fakeProvider
	seen *[]Message
}

func (c capturingProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	*c.seen = messages
	return c.fakeProvider.Chat(ctx, messages, opts)
}

func TestMiddlewareBeforeChatErrorAborts(t *testing.T) {
	p := succeeding("a")
	abort := errors.New("rejected")
	wrapped := WrapWithMiddleware(p, MiddlewareFunc{
		BeforeChatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) ([]Message, *ChatOptions, error) {
			return nil, nil, abort
		},
	})

	_, err := wrapped.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if !errors.Is(err, abort) {
		t.Errorf("want abort error, got %v", err)
	}
	if p.calls != 0 {
		t.Error("provider should not be called after abort")
	}
}

func TestMiddlewareAfterChatAppliedInReverseOrder(t *testing.T) {
	p := succeeding("a")
	appendTag := func(tag string) Middleware {
		return MiddlewareFunc{
			AfterChatFunc: func(ctx context.Context, resp *Response) (*Response, error) {
				resp.Content += tag
				return resp, nil
			},
		}
	}
	wrapped := WrapWithMiddleware(p, appendTag("-first"), appendTag("-second"))

	resp, err := wrapped.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Outermost middleware sees the response last.
	if resp.Content != "a says hi-second-first" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestMiddlewareOnErrorCanReplaceError(t *testing.T) {
	cause := NewTimeoutError("a", "slow", nil)
	p := failing("a", cause)
	replacement := errors.New("friendlier message")
	wrapped := WrapWithMiddleware(p, MiddlewareFunc{
		OnErrorFunc: func(ctx context.Context, err error) error {
			return replacement
		},
	})

	_, err := wrapped.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if !errors.Is(err, replacement) {
		t.Errorf("want replacement error, got %v", err)
	}
}

func TestMiddlewarePassesThroughCapabilities(t *testing.T) {
	p := succeeding("a")
	wrapped := WrapWithMiddleware(p, MiddlewareFunc{})

	if wrapped.Name() != "a" || !wrapped.SupportsStreaming() || wrapped.DefaultModel() != "a-default" {
		t.Error("capability methods should delegate to the wrapped provider")
	}
}
