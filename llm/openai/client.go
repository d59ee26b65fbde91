package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/llmrelay/llm"
)

// DefaultModel is used when neither the request nor the provider settings
// name a model.
const DefaultModel = "gpt-4o-mini"

// The OpenAI SDK does not expose the Retry-After header, so 429 responses
// carry this fixed hint.
const defaultRetryAfter = 60 * time.Second

// Provider implements llm.Provider for OpenAI's chat completions API. With a
// custom BaseURL it also serves OpenAI-compatible servers such as OpenRouter
// and llama.cpp.
type Provider struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// New creates an OpenAI provider. baseURL and organization are optional.
func New(apiKey, baseURL, model, organization string, logger zerolog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, llm.NewValidationError(llm.ProviderOpenAI, "api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}

	return &Provider{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.With().Str("provider", llm.ProviderOpenAI).Logger(),
	}, nil
}

// Name implements llm.Provider.Name.
func (p *Provider) Name() string { return llm.ProviderOpenAI }

// SupportsStreaming implements llm.Provider.SupportsStreaming.
func (p *Provider) SupportsStreaming() bool { return true }

// SupportsToolCalling implements llm.Provider.SupportsToolCalling.
func (p *Provider) SupportsToolCalling() bool { return true }

// DefaultModel implements llm.Provider.DefaultModel.
func (p *Provider) DefaultModel() string { return p.model }

// Chat implements llm.Provider.Chat.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error) {
	req, err := p.buildRequest(messages, opts, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, convertError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewAPIError(llm.ProviderOpenAI, "response contained no choices", 0, false, nil)
	}

	choice := resp.Choices[0]
	toolCalls, err := fromToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &llm.Response{
		Content:   choice.Message.Content,
		Role:      llm.RoleAssistant,
		Model:     resp.Model,
		Provider:  llm.ProviderOpenAI,
		ToolCalls: toolCalls,
		Usage: &llm.Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
		FinishReason: finishReason(choice.FinishReason),
	}, nil
}

// ChatStream implements llm.Provider.ChatStream.
func (p *Provider) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (llm.Stream, error) {
	req, err := p.buildRequest(messages, opts, true)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, convertError(err)
	}
	return newChatStream(stream), nil
}

func (p *Provider) buildRequest(messages []llm.Message, opts *llm.ChatOptions, stream bool) (openai.ChatCompletionRequest, error) {
	if len(messages) == 0 {
		return openai.ChatCompletionRequest{}, llm.NewValidationError(llm.ProviderOpenAI, "at least one message is required")
	}
	if opts == nil {
		opts = &llm.ChatOptions{}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}

	openaiMsgs, err := toChatMessages(messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	if opts.System != "" {
		openaiMsgs = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.System,
		}}, openaiMsgs...)
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMsgs,
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if len(opts.Tools) > 0 && !opts.DisableTools {
		req.Tools = toTools(opts.Tools)
		req.ToolChoice = "auto"
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = int(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	return req, nil
}

func finishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonToolCalls:
		return "tool_calls"
	default:
		return "stop"
	}
}

// convertError maps OpenAI SDK errors to the shared taxonomy.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llm.NewAuthError(llm.ProviderOpenAI, "authentication failed", err)
		case http.StatusTooManyRequests:
			retryAfter := defaultRetryAfter
			return llm.NewRateLimitError(llm.ProviderOpenAI, "rate limit exceeded", &retryAfter, err)
		case http.StatusRequestTimeout:
			return llm.NewTimeoutError(llm.ProviderOpenAI, "request timed out", err)
		default:
			retryable := apiErr.HTTPStatusCode >= 500
			return llm.NewAPIError(llm.ProviderOpenAI, "api request failed", apiErr.HTTPStatusCode, retryable, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTimeoutError(llm.ProviderOpenAI, "request timed out", err)
	}
	if strings.Contains(err.Error(), "timeout") {
		return llm.NewTimeoutError(llm.ProviderOpenAI, "request timed out", err)
	}
	return llm.NewAPIError(llm.ProviderOpenAI, "request failed", 0, false, err)
}

var _ llm.Provider = (*Provider)(nil)
