package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
	"github.com/aschepis/llmrelay/tokens"
)

// SummaryTag prefixes the system message that replaces summarized history.
const SummaryTag = "[Previous conversation summary]"

// DefaultSummaryPrompt is the template used to ask the LLM for a summary.
// The %s placeholder receives the flattened transcript.
const DefaultSummaryPrompt = `Summarize the following conversation history concisely, preserving key information, decisions, and context that would be important for continuing the conversation. Be brief.

Conversation to summarize:
%s

Provide a concise summary:`

const (
	// DefaultKeepRecent is the number of recent non-system messages kept
	// verbatim through summarization.
	DefaultKeepRecent = 4
	// DefaultSummarizeRetries is the total number of summary attempts.
	DefaultSummarizeRetries = 3
	// DefaultSummarizeRetryDelay is the base delay between summary attempts;
	// the delay doubles after each failure.
	DefaultSummarizeRetryDelay = 1 * time.Second
	// DefaultSummaryMaxTokens caps the generated summary's length.
	DefaultSummaryMaxTokens = 1024
)

// SummarizeCompactor replaces a prefix of old messages with one system-tagged
// summary message generated by an injected chat provider. The summary call
// runs in its own retry-with-backoff loop; if every attempt fails or returns
// an empty response, the compactor degrades to plain truncation so a
// history-management failure never crashes the caller.
type SummarizeCompactor struct {
	provider        llm.Provider
	estimator       tokens.Estimator
	truncate        *TruncateCompactor
	keepRecent      int
	maxRetries      int
	retryDelay      time.Duration
	summaryMaxToken int64
	promptTemplate  string
	logger          zerolog.Logger
}

// SummarizeOption configures a SummarizeCompactor.
type SummarizeOption func(*SummarizeCompactor)

// WithKeepRecent sets how many recent non-system messages survive verbatim.
func WithKeepRecent(n int) SummarizeOption {
	return func(c *SummarizeCompactor) {
		if n > 0 {
			c.keepRecent = n
		}
	}
}

// WithSummarizeRetries sets the total number of summary attempts.
func WithSummarizeRetries(n int) SummarizeOption {
	return func(c *SummarizeCompactor) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithSummarizeRetryDelay sets the base delay between summary attempts.
func WithSummarizeRetryDelay(d time.Duration) SummarizeOption {
	return func(c *SummarizeCompactor) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithPromptTemplate replaces the default summary prompt template. The
// template must contain one %s placeholder for the transcript.
func WithPromptTemplate(template string) SummarizeOption {
	return func(c *SummarizeCompactor) { c.promptTemplate = template }
}

// WithPromptTemplateFile loads the summary prompt template from a file.
// The file is read once at construction; a read failure keeps the default.
func WithPromptTemplateFile(path string) SummarizeOption {
	return func(c *SummarizeCompactor) {
		data, err := os.ReadFile(path) //nolint:gosec // G304: explicit operator-provided path
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("Failed to load prompt template, keeping default")
			return
		}
		c.promptTemplate = string(data)
	}
}

// WithSummarizeEstimator replaces the default token estimator.
func WithSummarizeEstimator(e tokens.Estimator) SummarizeOption {
	return func(c *SummarizeCompactor) {
		c.estimator = e
		c.truncate = NewTruncateCompactorWithEstimator(e)
	}
}

// NewSummarizeCompactor creates a SummarizeCompactor backed by the given
// chat provider.
func NewSummarizeCompactor(logger zerolog.Logger, provider llm.Provider, opts ...SummarizeOption) *SummarizeCompactor {
	estimator := tokens.NewEstimator()
	c := &SummarizeCompactor{
		provider:        provider,
		estimator:       estimator,
		truncate:        NewTruncateCompactorWithEstimator(estimator),
		keepRecent:      DefaultKeepRecent,
		maxRetries:      DefaultSummarizeRetries,
		retryDelay:      DefaultSummarizeRetryDelay,
		summaryMaxToken: DefaultSummaryMaxTokens,
		promptTemplate:  DefaultSummaryPrompt,
		logger:          logger.With().Str("component", "summarizeCompactor").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compact implements Compactor.
func (c *SummarizeCompactor) Compact(ctx context.Context, messages []llm.Message, targetTokens int) ([]llm.Message, error) {
	systemMsgs, rest := separateSystemMessages(messages)

	// Nothing old enough to summarize.
	if len(rest) <= c.keepRecent {
		return messages, nil
	}
	// Already within budget; avoid an unnecessary LLM call.
	if c.estimator.ForMessages(messages) <= targetTokens {
		return messages, nil
	}

	old := rest[:len(rest)-c.keepRecent]
	recent := rest[len(rest)-c.keepRecent:]

	summary, err := c.summarizeWithRetry(ctx, old)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("Summarization failed, falling back to truncation")
		return c.truncate.Compact(ctx, messages, targetTokens)
	}

	summaryMsg := llm.NewSystemMessage(fmt.Sprintf("%s\n%s", SummaryTag, summary))

	result := make([]llm.Message, 0, len(systemMsgs)+1+len(recent))
	result = append(result, systemMsgs...)
	result = append(result, summaryMsg)
	result = append(result, recent...)

	// The summary itself is system-role and therefore protected; if the
	// budget is still blown, shed the oldest kept messages down to the
	// summary plus the last message.
	for c.estimator.ForMessages(result) > targetTokens && len(recent) > 1 {
		recent = recent[1:]
		result = result[:len(systemMsgs)+1]
		result = append(result, recent...)
	}

	c.logger.Info().
		Int("summarized", len(old)).
		Int("kept_recent", len(recent)).
		Int("estimated_tokens", c.estimator.ForMessages(result)).
		Msg("Compacted history via summarization")
	return result, nil
}

// summarizeWithRetry asks the provider for a summary, treating both errors
// and empty responses as failures. Delays double after each failed attempt.
// This loop is deliberately separate from the generic retry policy: the
// attempt budget counts total calls, not retries after the first.
func (c *SummarizeCompactor) summarizeWithRetry(ctx context.Context, old []llm.Message) (string, error) {
	prompt := fmt.Sprintf(c.promptTemplate, formatTranscript(old))
	request := []llm.Message{llm.NewUserMessage(prompt)}
	opts := &llm.ChatOptions{
		MaxTokens:    c.summaryMaxToken,
		DisableTools: true,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := c.provider.Chat(ctx, request, opts)
		if err != nil {
			lastErr = err
			c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("Summary attempt failed")
			continue
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			lastErr = fmt.Errorf("empty summary response")
			c.logger.Debug().Int("attempt", attempt+1).Msg("Summary attempt returned empty response")
			continue
		}
		return resp.Content, nil
	}

	return "", fmt.Errorf("summarization failed after %d attempts: %w", c.maxRetries, lastErr)
}

// formatTranscript flattens messages into "Role: content" lines.
func formatTranscript(messages []llm.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(roleLabel(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func roleLabel(role llm.MessageRole) string {
	switch role {
	case llm.RoleUser:
		return "User"
	case llm.RoleAssistant:
		return "Assistant"
	case llm.RoleTool:
		return "Tool"
	default:
		return "System"
	}
}

var _ Compactor = (*SummarizeCompactor)(nil)
