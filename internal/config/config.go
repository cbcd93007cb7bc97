// Package config provides configuration management for PlugForge.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PlugForge server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// LLM provider API keys. At least one is required.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Model is the model identifier passed to the provider. Empty means
	// the provider's default.
	Model string

	// MaxAttempts is the per-call retry budget for generation calls.
	MaxAttempts int

	// MaxContinuations caps follow-up calls when output is cut off by a
	// length limit.
	MaxContinuations int

	// FileErrorWait is how long a build waits for a user decision after a
	// file-level failure before skipping the file.
	FileErrorWait time.Duration

	// AgenticMaxSteps caps the quick-change action loop.
	AgenticMaxSteps int

	// GitHubToken enables exporting completed builds to GitHub (optional).
	GitHubToken string

	// Slack notifications (optional).
	SlackBotToken string
	SlackChannel  string

	// Telegram notifications (optional).
	TelegramBotToken string
	TelegramChatID   int64
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Load config file (~/.plugforge/config.env) into the environment.
	// Existing env vars take precedence (loadConfigFile only sets unset vars).
	loadConfigFile()

	dataDir := envOr("PLUGFORGE_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:       envOr("PLUGFORGE_ADDR", ":7090"),
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "plugforge.db"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		Model:            os.Getenv("PLUGFORGE_MODEL"),
		MaxAttempts:      envOrInt("PLUGFORGE_MAX_ATTEMPTS", 3),
		MaxContinuations: envOrInt("PLUGFORGE_MAX_CONTINUATIONS", 3),
		FileErrorWait:    envOrDuration("PLUGFORGE_FILE_ERROR_WAIT", 2*time.Minute),
		AgenticMaxSteps:  envOrInt("PLUGFORGE_AGENTIC_MAX_STEPS", 20),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:     os.Getenv("SLACK_CHANNEL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   envOrInt64("TELEGRAM_CHAT_ID", 0),
	}

	return cfg, nil
}

// loadConfigFile reads ~/.plugforge/config.env and sets any values that are
// not already present in the environment. This ensures env vars always win.
func loadConfigFile() {
	path := filepath.Join(defaultDataDir(), "config.env")
	f, err := os.Open(path)
	if err != nil {
		return // file doesn't exist or can't be read, that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		// Only set if not already in the environment.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	return nil
}

// ExportEnabled returns true if GitHub export is configured.
func (c *Config) ExportEnabled() bool {
	return c.GitHubToken != ""
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if Telegram notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plugforge"
	}
	return filepath.Join(home, ".plugforge")
}
