// Command llmrelay is a minimal chat REPL over the fallback provider chain.
// It exists to exercise the library end to end; the packages under llm/ and
// session/ are the real product.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/llmrelay/agent"
	"github.com/aschepis/llmrelay/config"
	"github.com/aschepis/llmrelay/conversations"
	"github.com/aschepis/llmrelay/llm"
	"github.com/aschepis/llmrelay/llm/anthropic"
	"github.com/aschepis/llmrelay/llm/ollama"
	"github.com/aschepis/llmrelay/llm/openai"
	relaylogger "github.com/aschepis/llmrelay/logger"
	"github.com/aschepis/llmrelay/migrations"
	"github.com/aschepis/llmrelay/session"
	"github.com/aschepis/llmrelay/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "llmrelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	sessionID := flag.String("session", "default", "session id for transcript persistence")
	stream := flag.Bool("stream", true, "stream responses")
	flag.Parse()

	logger, err := relaylogger.Init()
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	provider, estimator, err := buildProviderChain(cfg, logger)
	if err != nil {
		return err
	}

	sess, err := buildSession(cfg, provider, estimator, logger)
	if err != nil {
		return err
	}

	agentOpts := []agent.Option{agent.WithEstimator(estimator)}
	var store *conversations.Store
	if cfg.Database != "" {
		db, err := sql.Open("sqlite3", cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close() //nolint:errcheck // Close on shutdown
		if err := migrations.Run(db, logger); err != nil {
			return err
		}
		store = conversations.NewStore(db)
		agentOpts = append(agentOpts, agent.WithStore(store, *sessionID))
	}

	chat := agent.New(logger, provider, sess, agentOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if store != nil {
		if err := chat.Resume(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to resume session")
		}
	}

	return repl(ctx, chat, cfg, *stream)
}

// buildProviderChain instantiates every configured provider through the
// registry and wraps them in a fallback chain in config order.
func buildProviderChain(cfg *config.Config, logger zerolog.Logger) (*llm.FallbackProvider, tokens.Estimator, error) {
	registry := llm.NewRegistry()
	for _, register := range []func(*llm.Registry, zerolog.Logger) error{
		anthropic.Register,
		openai.Register,
		ollama.Register,
	} {
		if err := register(registry, logger); err != nil {
			return nil, nil, err
		}
	}

	var providers []llm.Provider
	for _, name := range cfg.Providers {
		provider, err := registry.New(name, settingsFor(cfg, name))
		if err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("Skipping unavailable provider")
			continue
		}
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no providers available; check API keys and config")
	}

	retryCfg := llm.RetryConfig{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay(),
		MaxDelay:   cfg.Retry.MaxDelay(),
		Jitter:     cfg.Retry.Jitter,
	}
	fallback, err := llm.NewFallbackProvider(logger, providers, llm.WithRetryConfig(retryCfg))
	if err != nil {
		return nil, nil, err
	}

	estimator := tokens.NewEstimatorForProvider(providers[0].Name())
	return fallback, estimator, nil
}

func settingsFor(cfg *config.Config, name string) llm.ProviderSettings {
	switch name {
	case llm.ProviderAnthropic:
		return llm.ProviderSettings{APIKey: cfg.Anthropic.APIKey, Model: cfg.Anthropic.Model}
	case llm.ProviderOpenAI:
		return llm.ProviderSettings{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			Organization: cfg.OpenAI.Organization,
		}
	case llm.ProviderOllama:
		return llm.ProviderSettings{Host: cfg.Ollama.Host, Model: cfg.Ollama.Model, TimeoutSecs: cfg.Ollama.Timeout}
	default:
		return llm.ProviderSettings{}
	}
}

func buildSession(cfg *config.Config, provider llm.Provider, estimator tokens.Estimator, logger zerolog.Logger) (*session.Session, error) {
	opts := []session.Option{
		session.WithEstimator(estimator),
	}
	if cfg.SystemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.Session.MaxMessages > 0 {
		opts = append(opts, session.WithMaxMessages(cfg.Session.MaxMessages))
	}
	if cfg.Session.MaxTokens > 0 {
		opts = append(opts, session.WithMaxTokens(cfg.Session.MaxTokens))
	}

	switch cfg.Session.Compaction {
	case "summarize":
		summarizeOpts := []session.SummarizeOption{
			session.WithSummarizeEstimator(estimator),
		}
		if cfg.Session.KeepRecent > 0 {
			summarizeOpts = append(summarizeOpts, session.WithKeepRecent(cfg.Session.KeepRecent))
		}
		if cfg.Session.SummarizeRetries > 0 {
			summarizeOpts = append(summarizeOpts, session.WithSummarizeRetries(cfg.Session.SummarizeRetries))
		}
		if cfg.Session.PromptTemplate != "" {
			summarizeOpts = append(summarizeOpts, session.WithPromptTemplateFile(cfg.Session.PromptTemplate))
		}
		opts = append(opts, session.WithCompactor(session.NewSummarizeCompactor(logger, provider, summarizeOpts...)))
	default:
		opts = append(opts, session.WithCompactor(session.NewTruncateCompactorWithEstimator(estimator)))
	}

	return session.New(logger, opts...), nil
}

func repl(ctx context.Context, chat *agent.Agent, cfg *config.Config, stream bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("llmrelay chat. /quit to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if cfg.ChatTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.ChatTimeout)*time.Second)
		}

		var err error
		if stream {
			_, err = chat.SendStream(reqCtx, line, func(chunk *llm.Chunk) {
				fmt.Print(chunk.Content)
			})
			fmt.Println()
		} else {
			var resp *llm.Response
			resp, err = chat.Send(reqCtx, line)
			if err == nil {
				fmt.Println(resp.Content)
			}
		}
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
