package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
)

// DefaultModel is used when neither the request nor the provider settings
// name a model.
const DefaultModel = "claude-haiku-4-5"

const defaultMaxTokens = 4096

// Provider implements llm.Provider for Anthropic's Messages API.
type Provider struct {
	client *anthropic.Client
	model  string
	logger zerolog.Logger
}

// New creates an Anthropic provider with the given API key. If model is
// empty, DefaultModel is used.
func New(apiKey, model string, logger zerolog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, llm.NewValidationError(llm.ProviderAnthropic, "api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{
		client: &client,
		model:  model,
		logger: logger.With().Str("provider", llm.ProviderAnthropic).Logger(),
	}, nil
}

// Name implements llm.Provider.Name.
func (p *Provider) Name() string { return llm.ProviderAnthropic }

// SupportsStreaming implements llm.Provider.SupportsStreaming.
func (p *Provider) SupportsStreaming() bool { return true }

// SupportsToolCalling implements llm.Provider.SupportsToolCalling.
func (p *Provider) SupportsToolCalling() bool { return true }

// DefaultModel implements llm.Provider.DefaultModel.
func (p *Provider) DefaultModel() string { return p.model }

// Chat implements llm.Provider.Chat.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, convertError(err)
	}

	var content strings.Builder
	var toolCalls []llm.ToolCall
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, fromToolUseBlock(block))
		}
	}

	return &llm.Response{
		Content:   content.String(),
		Role:      llm.RoleAssistant,
		Model:     string(message.Model),
		Provider:  llm.ProviderAnthropic,
		ToolCalls: toolCalls,
		Usage: &llm.Usage{
			PromptTokens:     message.Usage.InputTokens,
			CompletionTokens: message.Usage.OutputTokens,
			TotalTokens:      message.Usage.InputTokens + message.Usage.OutputTokens,
		},
		FinishReason: string(message.StopReason),
	}, nil
}

// ChatStream implements llm.Provider.ChatStream.
func (p *Provider) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (llm.Stream, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return newChatStream(stream), nil
}

// buildParams translates provider-neutral messages and options into the
// Anthropic request shape. System-role messages (including compaction
// summaries) are folded into the request's system blocks.
func (p *Provider) buildParams(messages []llm.Message, opts *llm.ChatOptions) (anthropic.MessageNewParams, error) {
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, llm.NewValidationError(llm.ProviderAnthropic, "at least one message is required")
	}
	if opts == nil {
		opts = &llm.ChatOptions{}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	anthropicMsgs, system := toMessageParams(messages)
	if opts.System != "" {
		system = append([]string{opts.System}, system...)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  anthropicMsgs,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n"), CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	if len(opts.Tools) > 0 && !opts.DisableTools {
		params.Tools = toToolUnionParams(opts.Tools)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	return params, nil
}

// convertError maps Anthropic SDK errors to the shared taxonomy.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llm.NewAuthError(llm.ProviderAnthropic, "authentication failed", err)
		case http.StatusTooManyRequests:
			retryAfter := extractRetryAfter(apierr.Response)
			return llm.NewRateLimitError(llm.ProviderAnthropic, "rate limit exceeded", retryAfter, err)
		case http.StatusRequestTimeout:
			return llm.NewTimeoutError(llm.ProviderAnthropic, "request timed out", err)
		default:
			retryable := apierr.StatusCode >= 500
			return llm.NewAPIError(llm.ProviderAnthropic, "api request failed", apierr.StatusCode, retryable, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTimeoutError(llm.ProviderAnthropic, "request timed out", err)
	}
	return llm.NewAPIError(llm.ProviderAnthropic, "request failed", 0, false, err)
}

// extractRetryAfter reads the Retry-After header off a 429 response.
func extractRetryAfter(resp *http.Response) *time.Duration {
	if resp == nil {
		return nil
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return nil
	}
	if d, err := time.ParseDuration(header + "s"); err == nil {
		return &d
	}
	return nil
}

var _ llm.Provider = (*Provider)(nil)
