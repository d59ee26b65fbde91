// Package agent ties a provider chain, a bounded session, and optional
// transcript persistence into a single conversational client.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/conversations"
	"github.com/aschepis/llmrelay/llm"
	"github.com/aschepis/llmrelay/session"
	"github.com/aschepis/llmrelay/tokens"
)

// Agent drives a conversation against an llm.Provider, usually a fallback
// chain. History budgets and compaction are delegated to the session; real
// token usage from responses feeds back into the estimator so budget checks
// tighten over time.
type Agent struct {
	provider  llm.Provider
	session   *session.Session
	estimator tokens.Estimator
	store     *conversations.Store
	sessionID string
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel overrides the provider's default model for every request.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithMaxTokens caps completion length per request.
func WithMaxTokens(n int64) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithStore enables transcript persistence under the given session ID.
func WithStore(store *conversations.Store, sessionID string) Option {
	return func(a *Agent) {
		a.store = store
		a.sessionID = sessionID
	}
}

// WithEstimator sets the estimator that receives usage feedback. Pass the
// same estimator the session uses so calibration affects compaction.
func WithEstimator(e tokens.Estimator) Option {
	return func(a *Agent) { a.estimator = e }
}

// New creates an Agent over the given provider and session.
func New(logger zerolog.Logger, provider llm.Provider, sess *session.Session, opts ...Option) *Agent {
	a := &Agent{
		provider: provider,
		session:  sess,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resume loads a persisted transcript into the session. It is a no-op
// without a store.
func (a *Agent) Resume(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	messages, err := a.store.Load(ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	for _, msg := range messages {
		if err := a.session.Add(ctx, msg); err != nil {
			return err
		}
	}
	a.logger.Debug().Int("messages", len(messages)).Str("session", a.sessionID).Msg("Resumed session")
	return nil
}

// Send appends a user message, requests a completion over the full history,
// and appends the assistant reply. Compaction runs as part of adding the
// user message, before the request is sent.
func (a *Agent) Send(ctx context.Context, content string) (*llm.Response, error) {
	if err := a.session.AddUser(ctx, content); err != nil {
		return nil, err
	}

	resp, err := a.provider.Chat(ctx, a.session.Messages(), a.chatOptions())
	if err != nil {
		return nil, err
	}

	a.recordUsage(resp)
	if err := a.session.Add(ctx, resp.AssistantMessage()); err != nil {
		return nil, err
	}
	a.persist(ctx, llm.NewUserMessage(content), resp.AssistantMessage())
	return resp, nil
}

// SendStream appends a user message and streams the completion, invoking
// onChunk for each delivered chunk. The assembled reply is appended to the
// session when the stream ends cleanly.
func (a *Agent) SendStream(ctx context.Context, content string, onChunk func(*llm.Chunk)) (*llm.Response, error) {
	if err := a.session.AddUser(ctx, content); err != nil {
		return nil, err
	}

	stream, err := a.provider.ChatStream(ctx, a.session.Messages(), a.chatOptions())
	if err != nil {
		return nil, err
	}
	defer stream.Close() //nolint:errcheck // Close after full consumption

	resp := &llm.Response{Role: llm.RoleAssistant, Provider: a.provider.Name()}
	for stream.Next() {
		chunk := stream.Chunk()
		resp.Content += chunk.Content
		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = chunk.Usage
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	a.recordUsage(resp)
	if err := a.session.Add(ctx, resp.AssistantMessage()); err != nil {
		return nil, err
	}
	a.persist(ctx, llm.NewUserMessage(content), resp.AssistantMessage())
	return resp, nil
}

// History returns a copy of the session's current messages.
func (a *Agent) History() []llm.Message {
	return a.session.Messages()
}

func (a *Agent) chatOptions() *llm.ChatOptions {
	return &llm.ChatOptions{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    a.session.SystemPrompt(),
	}
}

// recordUsage feeds observed prompt token counts back into the estimator.
func (a *Agent) recordUsage(resp *llm.Response) {
	if a.estimator == nil || resp.Usage == nil || resp.Usage.PromptTokens == 0 {
		return
	}
	a.estimator.RecordUsage(a.session.Messages(), resp.Usage.PromptTokens)
}

// persist appends the exchanged messages to the store. Persistence failures
// are logged, not returned; losing a transcript row must not fail a chat.
func (a *Agent) persist(ctx context.Context, exchanged ...llm.Message) {
	if a.store == nil {
		return
	}
	for _, msg := range exchanged {
		if err := a.store.Append(ctx, a.sessionID, msg); err != nil {
			a.logger.Warn().Err(err).Str("session", a.sessionID).Msg("Failed to persist message")
			return
		}
	}
}
