// Package config loads llmrelay configuration from YAML with layered
// defaults. Values resolve in order: built-in defaults, then the config
// file, then environment variables for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig holds settings for the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OpenAIConfig holds settings for the OpenAI provider, or any
// OpenAI-compatible endpoint reached via BaseURL.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// OllamaConfig holds settings for the Ollama provider.
type OllamaConfig struct {
	Host    string `yaml:"host,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"` // seconds
}

// RetryConfig controls the per-provider retry policy.
type RetryConfig struct {
	MaxRetries  int  `yaml:"max_retries,omitempty"`
	BaseDelayMS int  `yaml:"base_delay_ms,omitempty"`
	MaxDelayMS  int  `yaml:"max_delay_ms,omitempty"`
	Jitter      bool `yaml:"jitter"`
}

// BaseDelay returns the base delay as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the max delay as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// SessionConfig controls conversation history budgets and compaction.
type SessionConfig struct {
	MaxMessages      int    `yaml:"max_messages,omitempty"`
	MaxTokens        int    `yaml:"max_tokens,omitempty"`
	Compaction       string `yaml:"compaction,omitempty"` // "truncate" or "summarize"
	KeepRecent       int    `yaml:"keep_recent,omitempty"`
	SummaryModel     string `yaml:"summary_model,omitempty"`
	PromptTemplate   string `yaml:"prompt_template,omitempty"` // path to a template file
	SummarizeRetries int    `yaml:"summarize_retries,omitempty"`
}

// Config is the root llmrelay configuration.
type Config struct {
	// Providers lists fallback order. The first entry is preferred.
	Providers []string `yaml:"providers,omitempty"`

	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`

	Retry   RetryConfig   `yaml:"retry,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`

	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Database is the SQLite path for conversation transcripts. Empty
	// disables persistence.
	Database string `yaml:"database,omitempty"`

	ChatTimeout int `yaml:"chat_timeout,omitempty"` // seconds
}

// DefaultPath returns the default config file path. Can be overridden via
// LLMRELAY_CONFIG_PATH.
func DefaultPath() string {
	if envPath := os.Getenv("LLMRELAY_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.llmrelay/config.yaml"
	}
	return filepath.Join(homeDir, ".llmrelay", "config.yaml")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func defaults() Config {
	return Config{
		Providers: []string{"anthropic", "openai", "ollama"},
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Model:   "llama3.2",
			Timeout: 60,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "",
			Model:   "gpt-4o-mini",
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelayMS: 1000,
			MaxDelayMS:  30000,
			Jitter:      true,
		},
		Session: SessionConfig{
			MaxTokens:        8000,
			Compaction:       "truncate",
			KeepRecent:       4,
			SummarizeRetries: 3,
		},
		ChatTimeout: 120,
	}
}

// Load reads the config file at path, merging it over built-in defaults.
// A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //nolint:gosec // G304: explicit operator-provided path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv fills credentials from the environment when the file left them
// empty. File values win so operators can pin keys per deployment.
func applyEnv(cfg *Config) {
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" && cfg.Ollama.Host == "" {
		cfg.Ollama.Host = host
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for _, name := range c.Providers {
		switch name {
		case "anthropic", "openai", "ollama":
		default:
			return fmt.Errorf("unknown provider %q", name)
		}
	}
	switch c.Session.Compaction {
	case "", "truncate", "summarize":
	default:
		return fmt.Errorf("unknown compaction strategy %q", c.Session.Compaction)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	return nil
}

// Save writes the configuration to path, creating parent directories.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)
	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
