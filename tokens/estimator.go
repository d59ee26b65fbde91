package tokens

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/aschepis/llmrelay/llm"
)

const (
	// DefaultCharsPerToken is the default character-to-token ratio.
	// Approximately 4 characters equals 1 token for English text.
	DefaultCharsPerToken = 4.0

	// MessageOverheadTokens is the fixed per-message overhead added on top
	// of content tokens, covering role markers and protocol framing.
	MessageOverheadTokens = 4

	// defaultSmoothingFactor controls how quickly the calibrated ratio
	// adapts to new usage observations: 30% weight on the new observation,
	// 70% on the running average.
	defaultSmoothingFactor = 0.3
)

// providerRatios holds approximate characters-per-token ratios per provider
// family. BPE tokenizers typically average 3.5-4.5 characters per token;
// lower is conservative (overestimates tokens), which trims slightly early
// rather than risking a context overflow from the provider.
var providerRatios = map[string]float64{
	llm.ProviderAnthropic: 3.5,
	llm.ProviderOpenAI:    4.0,
	llm.ProviderOllama:    4.0,
}

// Estimator estimates token counts for text and message lists without
// calling a real tokenizer.
type Estimator interface {
	// Count estimates the number of tokens in the given text.
	Count(text string) int

	// ForMessages estimates the total token count for a message list,
	// including per-message overhead and tool-call payloads.
	ForMessages(messages []llm.Message) int

	// RecordUsage updates the estimator's calibration from the actual
	// prompt token count reported by a provider response.
	RecordUsage(messages []llm.Message, actualPromptTokens int64)
}

// HeuristicEstimator uses a character-to-token ratio for estimation and
// calibrates that ratio over time from actual provider usage via an
// exponential moving average. The first observation replaces the default
// ratio entirely; later ones blend in to smooth out variation between turns
// with different content profiles.
type HeuristicEstimator struct {
	charsPerToken    float64
	smoothingFactor  float64
	observationCount int
}

// NewEstimator creates an estimator with the default ratio of ~4 characters
// per token.
func NewEstimator() *HeuristicEstimator {
	return NewEstimatorWithRatio(DefaultCharsPerToken)
}

// NewEstimatorForProvider creates an estimator seeded with the approximate
// ratio for the given provider family. Unknown providers get the default.
func NewEstimatorForProvider(provider string) *HeuristicEstimator {
	if ratio, ok := providerRatios[provider]; ok {
		return NewEstimatorWithRatio(ratio)
	}
	return NewEstimatorWithRatio(DefaultCharsPerToken)
}

// NewEstimatorWithRatio creates an estimator with a custom ratio.
// If charsPerToken is <= 0, the default ratio is used.
func NewEstimatorWithRatio(charsPerToken float64) *HeuristicEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &HeuristicEstimator{
		charsPerToken:   charsPerToken,
		smoothingFactor: defaultSmoothingFactor,
	}
}

// Count estimates the number of tokens in the given text. Counts runes
// rather than bytes so multi-byte characters don't inflate the estimate.
func (e *HeuristicEstimator) Count(text string) int {
	runeCount := utf8.RuneCountInString(text)
	return int(float64(runeCount) / e.charsPerToken)
}

// ForMessages estimates the total token count for a message list.
func (e *HeuristicEstimator) ForMessages(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += MessageOverheadTokens
		total += e.Count(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += e.Count(tc.Name)
			if tc.Arguments != nil {
				if argBytes, err := json.Marshal(tc.Arguments); err == nil {
					total += e.Count(string(argBytes))
				}
			}
		}
	}
	return total
}

// RecordUsage updates the calibration using the actual prompt token count
// from a provider response. The reported count includes system prompt and
// protocol overhead, which the ratio absorbs; early estimates stay slightly
// conservative and converge as content dominates the overhead.
func (e *HeuristicEstimator) RecordUsage(messages []llm.Message, actualPromptTokens int64) {
	if actualPromptTokens <= 0 {
		return
	}
	characters := 0
	for _, msg := range messages {
		characters += utf8.RuneCountInString(msg.Content)
	}
	if characters == 0 {
		return
	}

	observedRatio := float64(characters) / float64(actualPromptTokens)

	e.observationCount++
	if e.observationCount == 1 {
		e.charsPerToken = observedRatio
		return
	}
	e.charsPerToken = e.smoothingFactor*observedRatio + (1.0-e.smoothingFactor)*e.charsPerToken
}

// ModelLimits contains context window sizes for common models.
var ModelLimits = map[string]int{
	"claude-sonnet-4-5": 200000,
	"claude-haiku-4-5":  200000,
	"claude-opus-4":     200000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-4.1":           1000000,
	"llama3.1":          131072,
	"default":           100000,
}

// GetModelLimit returns the token limit for a model, or a default if unknown.
func GetModelLimit(model string) int {
	if limit, ok := ModelLimits[model]; ok {
		return limit
	}
	return ModelLimits["default"]
}

var _ Estimator = (*HeuristicEstimator)(nil)
