package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeProvider is a scripted provider for fallback tests. Each Chat call pops
// the next result; the last one repeats once the script runs out.
type fakeProvider struct {
	name      string
	streaming bool
	results   []fakeResult
	calls     int
	streams   []*fakeStream
	streamErr error
}

type fakeResult struct {
	resp *Response
	err  error
}

func (p *fakeProvider) Name() string              { return p.name }
func (p *fakeProvider) SupportsStreaming() bool   { return p.streaming }
func (p *fakeProvider) SupportsToolCalling() bool { return true }
func (p *fakeProvider) DefaultModel() string      { return p.name + "-default" }

func (p *fakeProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	r := p.results[idx]
	return r.resp, r.err
}

func (p *fakeProvider) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (Stream, error) {
	p.calls++
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	if len(p.streams) == 0 {
		return &fakeStream{}, nil
	}
	s := p.streams[0]
	if len(p.streams) > 1 {
		p.streams = p.streams[1:]
	}
	return s, nil
}

// fakeStream yields scripted chunks, then optionally fails.
type fakeStream struct {
	chunks  []*Chunk
	failure error
	pos     int
	closed  bool
}

func (s *fakeStream) Next() bool {
	if s.pos < len(s.chunks) {
		s.pos++
		return true
	}
	return false
}

func (s *fakeStream) Chunk() *Chunk {
	if s.pos == 0 || s.pos > len(s.chunks) {
		return nil
	}
	return s.chunks[s.pos-1]
}

func (s *fakeStream) Err() error   { return s.failure }
func (s *fakeStream) Close() error { s.closed = true; return nil }

func succeeding(name string) *fakeProvider {
	return &fakeProvider{
		name:      name,
		streaming: true,
		results:   []fakeResult{{resp: &Response{Content: name + " says hi", Provider: name}}},
	}
}

func failing(name string, err error) *fakeProvider {
	return &fakeProvider{
		name:      name,
		streaming: true,
		results:   []fakeResult{{err: err}},
	}
}

func newChain(t *testing.T, providers []Provider, opts ...FallbackOption) *FallbackProvider {
	t.Helper()
	f, err := NewFallbackProvider(zerolog.Nop(), providers, opts...)
	if err != nil {
		t.Fatalf("NewFallbackProvider: %v", err)
	}
	return f
}

func TestNewFallbackProviderRequiresProviders(t *testing.T) {
	_, err := NewFallbackProvider(zerolog.Nop(), nil)
	if !IsValidationError(err) {
		t.Errorf("want validation error, got %v", err)
	}
}

func TestFallbackFirstProviderSucceeds(t *testing.T) {
	primary := succeeding("anthropic")
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	resp, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("served by %q, want anthropic", resp.Provider)
	}
	if secondary.calls != 0 {
		t.Error("secondary should not have been called")
	}

	result := f.LastResult()
	if result == nil || result.ProviderUsed != "anthropic" {
		t.Fatalf("unexpected last result: %+v", result)
	}
	if len(result.ProvidersTried) != 1 || result.ProvidersTried[0] != "anthropic" {
		t.Errorf("ProvidersTried = %v", result.ProvidersTried)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors should be empty: %v", result.Errors)
	}
}

func TestFallbackAdvancesOnRateLimit(t *testing.T) {
	primary := failing("anthropic", NewRateLimitError("anthropic", "slow down", nil, nil))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	resp, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "openai" {
		t.Errorf("served by %q, want openai", resp.Provider)
	}

	result := f.LastResult()
	if got := result.ProvidersTried; len(got) != 2 || got[0] != "anthropic" || got[1] != "openai" {
		t.Errorf("ProvidersTried = %v", got)
	}
	if !IsRateLimitError(result.Errors["anthropic"]) {
		t.Errorf("anthropic error not recorded: %v", result.Errors)
	}
}

func TestFallbackAdvancesOnTimeoutAndRetryableAPIError(t *testing.T) {
	first := failing("a", NewTimeoutError("a", "slow", nil))
	second := failing("b", NewAPIError("b", "flaky", 503, true, nil))
	third := succeeding("c")
	f := newChain(t, []Provider{first, second, third}, WithoutPerProviderRetry())

	resp, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "c" {
		t.Errorf("served by %q, want c", resp.Provider)
	}
}

func TestFallbackStopsOnAuthError(t *testing.T) {
	primary := failing("anthropic", NewAuthError("anthropic", "denied", nil))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	_, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if !IsAuthError(err) {
		t.Fatalf("want auth error, got %v", err)
	}
	if secondary.calls != 0 {
		t.Error("auth failure must not advance the chain")
	}
}

func TestFallbackStopsOnValidationError(t *testing.T) {
	primary := failing("anthropic", NewValidationError("anthropic", "empty messages"))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	_, err := f.Chat(context.Background(), []Message{}, nil)
	if !IsValidationError(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	if secondary.calls != 0 {
		t.Error("validation failure must not advance the chain")
	}
}

func TestFallbackStopsOnTerminalAPIError(t *testing.T) {
	primary := failing("anthropic", NewAPIError("anthropic", "bad request", 400, false, nil))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	_, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	var llmErr *Error
	if !errors.As(err, &llmErr) || llmErr.Type != ErrorTypeAPI {
		t.Fatalf("want api error, got %v", err)
	}
	if secondary.calls != 0 {
		t.Error("non-retryable api error must not advance the chain")
	}
}

func TestFallbackAllProvidersFail(t *testing.T) {
	first := failing("anthropic", NewRateLimitError("anthropic", "slow down", nil, nil))
	second := failing("openai", NewTimeoutError("openai", "slow", nil))
	f := newChain(t, []Provider{first, second}, WithoutPerProviderRetry())

	_, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	var allFailed *AllProvidersFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("want AllProvidersFailedError, got %v", err)
	}
	if len(allFailed.ProvidersTried) != 2 {
		t.Errorf("ProvidersTried = %v", allFailed.ProvidersTried)
	}
	if len(allFailed.Errors) != 2 {
		t.Errorf("Errors = %v", allFailed.Errors)
	}
	if f.LastProviderUsed() != "" {
		t.Error("no provider should be marked as used")
	}
}

func TestFallbackCustomFallbackSet(t *testing.T) {
	// With fallback restricted to timeouts, a rate limit becomes terminal.
	primary := failing("anthropic", NewRateLimitError("anthropic", "slow down", nil, nil))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary},
		WithoutPerProviderRetry(), WithFallbackOn(ErrorTypeTimeout))

	_, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if !IsRateLimitError(err) {
		t.Fatalf("want rate limit error surfaced, got %v", err)
	}
	if secondary.calls != 0 {
		t.Error("rate limit should not advance with a timeout-only fallback set")
	}
}

func TestFallbackRetriesPerProviderBeforeAdvancing(t *testing.T) {
	primary := failing("anthropic", NewTimeoutError("anthropic", "slow", nil))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithRetryConfig(RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}))

	resp, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "openai" {
		t.Errorf("served by %q, want openai", resp.Provider)
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want 3 (initial + 2 retries)", primary.calls)
	}

	// The recorded error is the retry wrapper; it still classifies as the
	// underlying timeout.
	result := f.LastResult()
	var exhausted *RetryExhaustedError
	if !errors.As(result.Errors["anthropic"], &exhausted) {
		t.Errorf("recorded error should be retry exhaustion: %v", result.Errors)
	}
}

func TestFallbackRecoversInPlaceWithoutAdvancing(t *testing.T) {
	primary := &fakeProvider{
		name:      "anthropic",
		streaming: true,
		results: []fakeResult{
			{err: NewTimeoutError("anthropic", "slow", nil)},
			{err: NewTimeoutError("anthropic", "slow", nil)},
			{resp: &Response{Content: "third time lucky", Provider: "anthropic"}},
		},
	}
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithRetryConfig(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}))

	resp, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("served by %q, want the retried primary", resp.Provider)
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want 3", primary.calls)
	}
	if secondary.calls != 0 {
		t.Error("a recovered provider must not trigger fallback")
	}
}

func TestFallbackAuthErrorInsideRetryWrapperStops(t *testing.T) {
	primary := failing("anthropic", NewAuthError("anthropic", "denied", nil))
	secondary := succeeding("openai")
	f := newChain(t, []Provider{primary, secondary}, WithRetryConfig(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}))

	_, err := f.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if !IsAuthError(err) {
		t.Fatalf("want auth error, got %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("auth error should not be retried, calls = %d", primary.calls)
	}
	if secondary.calls != 0 {
		t.Error("auth error should not advance the chain")
	}
}

func TestFallbackContextCancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newChain(t, []Provider{succeeding("anthropic")}, WithoutPerProviderRetry())
	_, err := f.Chat(ctx, []Message{NewUserMessage("hi")}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestFallbackCapabilitiesAggregate(t *testing.T) {
	nonStreaming := succeeding("a")
	nonStreaming.streaming = false
	streaming := succeeding("b")
	f := newChain(t, []Provider{nonStreaming, streaming})

	if !f.SupportsStreaming() {
		t.Error("chain should stream when any member streams")
	}
	if f.DefaultModel() != "a-default" {
		t.Errorf("DefaultModel = %q, want the primary's", f.DefaultModel())
	}
	if got := f.Providers(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Providers = %v", got)
	}
}

func TestStreamFallbackSkipsNonStreamingProviders(t *testing.T) {
	nonStreaming := succeeding("a")
	nonStreaming.streaming = false
	streaming := succeeding("b")
	streaming.streams = []*fakeStream{{chunks: []*Chunk{{Content: "hi"}}}}
	f := newChain(t, []Provider{nonStreaming, streaming}, WithoutPerProviderRetry())

	stream, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	if !stream.Next() {
		t.Fatalf("want a chunk, got Err=%v", stream.Err())
	}
	if stream.Chunk().Content != "hi" {
		t.Errorf("chunk = %+v", stream.Chunk())
	}

	result := f.LastResult()
	if len(result.ProvidersTried) != 1 || result.ProvidersTried[0] != "b" {
		t.Errorf("non-streaming provider should not count as tried: %v", result.ProvidersTried)
	}
	if nonStreaming.calls != 0 {
		t.Error("non-streaming provider should not be called")
	}
}

func TestStreamFallbackNoStreamingProviders(t *testing.T) {
	p := succeeding("a")
	p.streaming = false
	f := newChain(t, []Provider{p})

	_, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if !IsValidationError(err) {
		t.Errorf("want validation error, got %v", err)
	}
}

func TestStreamFallbackAdvancesBeforeFirstChunk(t *testing.T) {
	primary := succeeding("a")
	primary.streamErr = NewRateLimitError("a", "slow down", nil, nil)
	secondary := succeeding("b")
	secondary.streams = []*fakeStream{{chunks: []*Chunk{{Content: "from b"}}}}
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	stream, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	if !stream.Next() {
		t.Fatalf("want a chunk, got Err=%v", stream.Err())
	}
	if stream.Chunk().Content != "from b" {
		t.Errorf("chunk = %+v", stream.Chunk())
	}

	result := f.LastResult()
	if result.ProviderUsed != "b" {
		t.Errorf("ProviderUsed = %q, want b", result.ProviderUsed)
	}
	if len(result.ProvidersTried) != 2 {
		t.Errorf("ProvidersTried = %v", result.ProvidersTried)
	}
}

func TestStreamFallbackMidStreamFailureAdvances(t *testing.T) {
	// The first provider's stream opens fine but dies before yielding a chunk.
	primary := succeeding("a")
	primary.streams = []*fakeStream{{failure: NewTimeoutError("a", "slow", nil)}}
	secondary := succeeding("b")
	secondary.streams = []*fakeStream{{chunks: []*Chunk{{Content: "from b"}}}}
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	stream, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	if !stream.Next() {
		t.Fatalf("want a chunk from the fallback, got Err=%v", stream.Err())
	}
	if stream.Chunk().Content != "from b" {
		t.Errorf("chunk = %+v", stream.Chunk())
	}
	if !primary.streams[0].closed {
		t.Error("failed stream should be closed")
	}
}

func TestStreamFallbackNoSwitchAfterFirstChunk(t *testing.T) {
	failure := NewRateLimitError("a", "slow down", nil, nil)
	primary := succeeding("a")
	primary.streams = []*fakeStream{{chunks: []*Chunk{{Content: "partial"}}, failure: failure}}
	secondary := succeeding("b")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	stream, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	if !stream.Next() {
		t.Fatal("want the partial chunk")
	}
	if stream.Next() {
		t.Fatal("stream should end after the failure")
	}
	if !IsRateLimitError(stream.Err()) {
		t.Errorf("post-delivery failure must propagate, got %v", stream.Err())
	}
	if secondary.calls != 0 {
		t.Error("must not switch providers after delivering output")
	}
}

func TestStreamFallbackAuthErrorStops(t *testing.T) {
	primary := succeeding("a")
	primary.streamErr = NewAuthError("a", "denied", nil)
	secondary := succeeding("b")
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	stream, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stream.Next() {
		t.Fatal("want no chunks")
	}
	if !IsAuthError(stream.Err()) {
		t.Errorf("want auth error, got %v", stream.Err())
	}
	if secondary.calls != 0 {
		t.Error("auth failure must not advance the chain")
	}
}

func TestStreamFallbackAllFail(t *testing.T) {
	primary := succeeding("a")
	primary.streamErr = NewRateLimitError("a", "slow down", nil, nil)
	secondary := succeeding("b")
	secondary.streamErr = NewTimeoutError("b", "slow", nil)
	f := newChain(t, []Provider{primary, secondary}, WithoutPerProviderRetry())

	stream, err := f.ChatStream(context.Background(), []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stream.Next() {
		t.Fatal("want no chunks")
	}
	var allFailed *AllProvidersFailedError
	if !errors.As(stream.Err(), &allFailed) {
		t.Fatalf("want AllProvidersFailedError, got %v", stream.Err())
	}
	if len(allFailed.ProvidersTried) != 2 || len(allFailed.Errors) != 2 {
		t.Errorf("unexpected aggregate: %+v", allFailed)
	}
}
