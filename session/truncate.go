package session

import (
	"context"

	"github.com/aschepis/llmrelay/llm"
	"github.com/aschepis/llmrelay/tokens"
)

// TruncateCompactor drops the oldest non-system messages until the history
// fits the target token budget. System messages are always kept and always
// come first in the output; the most recent message is never dropped.
// Deterministic, synchronous, no I/O.
type TruncateCompactor struct {
	estimator tokens.Estimator
}

// NewTruncateCompactor creates a TruncateCompactor.
func NewTruncateCompactor() *TruncateCompactor {
	return &TruncateCompactor{estimator: tokens.NewEstimator()}
}

// NewTruncateCompactorWithEstimator creates a TruncateCompactor using the
// given estimator.
func NewTruncateCompactorWithEstimator(e tokens.Estimator) *TruncateCompactor {
	return &TruncateCompactor{estimator: e}
}

// Compact implements Compactor.
func (c *TruncateCompactor) Compact(_ context.Context, messages []llm.Message, targetTokens int) ([]llm.Message, error) {
	systemMsgs, rest := separateSystemMessages(messages)

	for len(rest) > 1 && c.estimate(systemMsgs, rest) > targetTokens {
		rest = rest[1:]
	}

	result := make([]llm.Message, 0, len(systemMsgs)+len(rest))
	result = append(result, systemMsgs...)
	result = append(result, rest...)
	return result, nil
}

func (c *TruncateCompactor) estimate(systemMsgs, rest []llm.Message) int {
	return c.estimator.ForMessages(systemMsgs) + c.estimator.ForMessages(rest)
}

// separateSystemMessages splits a history into system messages and the rest,
// both in original order.
func separateSystemMessages(messages []llm.Message) ([]llm.Message, []llm.Message) {
	var systemMsgs, rest []llm.Message
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			systemMsgs = append(systemMsgs, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	return systemMsgs, rest
}

var _ Compactor = (*TruncateCompactor)(nil)
