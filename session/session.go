package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
	"github.com/aschepis/llmrelay/tokens"
)

// Compactor reduces a message history to fit within a token budget.
// Implementations must keep all system messages, positioned first in the
// output, and must return at least the most recent message even when the
// target is impossible to hit above that floor.
type Compactor interface {
	Compact(ctx context.Context, messages []llm.Message, targetTokens int) ([]llm.Message, error)
}

// Session owns the bounded, ordered message history of one logical chat
// interaction. Limits are enforced after every mutation: message-count trim
// first (always plain truncation), then the token budget via the configured
// compactor. Sessions are not safe for concurrent writers; callers needing
// that must serialize externally.
type Session struct {
	systemPrompt string
	messages     []llm.Message
	maxMessages  int
	maxTokens    int
	compactor    Compactor
	estimator    tokens.Estimator
	logger       zerolog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithSystemPrompt sets the session's system prompt. It is stored outside
// the message list and counted against the token budget.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) { s.systemPrompt = prompt }
}

// WithMaxMessages caps the number of messages kept in the history.
func WithMaxMessages(n int) Option {
	return func(s *Session) { s.maxMessages = n }
}

// WithMaxTokens caps the estimated token footprint of the history.
func WithMaxTokens(n int) Option {
	return func(s *Session) { s.maxTokens = n }
}

// WithCompactor sets the strategy invoked when the token budget is exceeded.
// Without one, the session falls back to oldest-first removal.
func WithCompactor(c Compactor) Option {
	return func(s *Session) { s.compactor = c }
}

// WithEstimator replaces the default token estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(s *Session) { s.estimator = e }
}

// New creates a Session.
func New(logger zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		estimator: tokens.NewEstimator(),
		logger:    logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SystemPrompt returns the session's system prompt.
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Messages returns a copy of the current history.
func (s *Session) Messages() []llm.Message {
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the history.
func (s *Session) Len() int { return len(s.messages) }

// TokenCount returns the estimated token footprint of the system prompt plus
// the current history. Recomputed from scratch on every call.
func (s *Session) TokenCount() int {
	return s.estimator.Count(s.systemPrompt) + s.estimator.ForMessages(s.messages)
}

// Add appends a message and enforces the configured limits.
func (s *Session) Add(ctx context.Context, msg llm.Message) error {
	s.messages = append(s.messages, msg)
	s.enforceMessageLimit()
	return s.enforceTokenLimit(ctx)
}

// AddUser appends a user message.
func (s *Session) AddUser(ctx context.Context, text string) error {
	return s.Add(ctx, llm.NewUserMessage(text))
}

// AddAssistant appends an assistant message.
func (s *Session) AddAssistant(ctx context.Context, text string) error {
	return s.Add(ctx, llm.NewAssistantMessage(text))
}

// Compact explicitly runs the token-budget enforcement, compacting the
// history if it is over budget.
func (s *Session) Compact(ctx context.Context) error {
	return s.enforceTokenLimit(ctx)
}

// enforceMessageLimit drops oldest messages until the count budget holds.
// Count overflow is always plain truncation, never summarized.
func (s *Session) enforceMessageLimit() {
	if s.maxMessages <= 0 || len(s.messages) <= s.maxMessages {
		return
	}
	dropped := len(s.messages) - s.maxMessages
	s.messages = s.messages[dropped:]
	s.logger.Debug().
		Int("dropped", dropped).
		Int("max_messages", s.maxMessages).
		Msg("Trimmed history to message limit")
}

// enforceTokenLimit invokes the compactor when the estimated footprint
// exceeds the token budget. Without a compactor it removes oldest messages,
// capped at all-but-one so a single oversized message cannot loop forever.
func (s *Session) enforceTokenLimit(ctx context.Context) error {
	if s.maxTokens <= 0 || s.TokenCount() <= s.maxTokens {
		return nil
	}

	if s.compactor != nil {
		compacted, err := s.compactor.Compact(ctx, s.messages, s.maxTokens)
		if err != nil {
			return err
		}
		s.messages = compacted
		return nil
	}

	limit := len(s.messages)
	for i := 0; i < limit && len(s.messages) > 1 && s.TokenCount() > s.maxTokens; i++ {
		s.messages = s.messages[1:]
	}
	return nil
}
