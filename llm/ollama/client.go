package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/llm"
)

// DefaultModel is used when neither the request nor the provider settings
// name a model.
const DefaultModel = "llama3.2"

// Provider implements llm.Provider for a local or remote Ollama server.
// No API key is required.
type Provider struct {
	client *api.Client
	model  string
	logger zerolog.Logger
}

// New creates an Ollama provider. If host is empty, the client is configured
// from the environment (OLLAMA_HOST, defaulting to http://localhost:11434).
func New(host, model string, logger zerolog.Logger) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}

	var client *api.Client
	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, llm.NewValidationError(llm.ProviderOllama, "invalid host: "+err.Error())
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, llm.NewValidationError(llm.ProviderOllama, "failed to configure client: "+err.Error())
		}
	}

	return &Provider{
		client: client,
		model:  model,
		logger: logger.With().Str("provider", llm.ProviderOllama).Logger(),
	}, nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Name implements llm.Provider.Name.
func (p *Provider) Name() string { return llm.ProviderOllama }

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

	var final api.ChatResponse
	err = p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, convertError(err)
	}

	return &llm.Response{
		Content:   final.Message.Content,
		Role:      llm.RoleAssistant,
		Model:     req.Model,
		Provider:  llm.ProviderOllama,
		ToolCalls: fromToolCalls(final.Message.ToolCalls),
		Usage: &llm.Usage{
			PromptTokens:     int64(final.PromptEvalCount),
			CompletionTokens: int64(final.EvalCount),
			TotalTokens:      int64(final.PromptEvalCount + final.EvalCount),
		},
		FinishReason: "stop",
	}, nil
}

// ChatStream implements llm.Provider.ChatStream.
func (p *Provider) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (llm.Stream, error) {
	req, err := p.buildRequest(messages, opts, true)
	if err != nil {
		return nil, err
	}
	return newChatStream(ctx, p.client, req), nil
}

func (p *Provider) buildRequest(messages []llm.Message, opts *llm.ChatOptions, stream bool) (*api.ChatRequest, error) {
	if len(messages) == 0 {
		return nil, llm.NewValidationError(llm.ProviderOllama, "at least one message is required")
	}
	if opts == nil {
		opts = &llm.ChatOptions{}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}

	ollamaMsgs := toAPIMessages(messages)
	if opts.System != "" {
		ollamaMsgs = append([]api.Message{{Role: "system", Content: opts.System}}, ollamaMsgs...)
	}

	req := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMsgs,
		Stream:   &stream,
		Options:  make(map[string]interface{}),
	}
	if len(opts.Tools) > 0 && !opts.DisableTools {
		req.Tools = toAPITools(opts.Tools)
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = int(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		req.Options["temperature"] = *opts.Temperature
	}
	return req, nil
}

// convertError maps Ollama client errors to the shared taxonomy. Connection
// failures are retryable; a local server may simply not be up yet.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llm.NewAuthError(llm.ProviderOllama, "authentication failed", err)
		case http.StatusTooManyRequests:
			return llm.NewRateLimitError(llm.ProviderOllama, "rate limit exceeded", nil, err)
		case http.StatusRequestTimeout:
			return llm.NewTimeoutError(llm.ProviderOllama, "request timed out", err)
		default:
			retryable := statusErr.StatusCode >= 500
			return llm.NewAPIError(llm.ProviderOllama, "api request failed", statusErr.StatusCode, retryable, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTimeoutError(llm.ProviderOllama, "request timed out", err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llm.NewAPIError(llm.ProviderOllama, "server unreachable", 0, true, err)
	}
	return llm.NewAPIError(llm.ProviderOllama, "request failed", 0, false, err)
}

var _ llm.Provider = (*Provider)(nil)
