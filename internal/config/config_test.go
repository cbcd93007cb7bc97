package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"PLUGFORGE_ADDR", "PLUGFORGE_DATA_DIR", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "PLUGFORGE_FILE_ERROR_WAIT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerAddr != ":7090" {
		t.Fatalf("unexpected default addr %q", cfg.ServerAddr)
	}
	if cfg.MaxAttempts != 3 || cfg.MaxContinuations != 3 {
		t.Fatalf("unexpected retry defaults %d/%d", cfg.MaxAttempts, cfg.MaxContinuations)
	}
	if cfg.FileErrorWait != 2*time.Minute {
		t.Fatalf("unexpected file error wait %v", cfg.FileErrorWait)
	}
	if cfg.AgenticMaxSteps != 20 {
		t.Fatalf("unexpected agentic cap %d", cfg.AgenticMaxSteps)
	}
	if cfg.DatabasePath != filepath.Join(cfg.DataDir, "plugforge.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PLUGFORGE_ADDR", ":9999")
	t.Setenv("PLUGFORGE_FILE_ERROR_WAIT", "30s")
	t.Setenv("PLUGFORGE_AGENTIC_MAX_STEPS", "5")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerAddr != ":9999" {
		t.Fatalf("env override ignored: %q", cfg.ServerAddr)
	}
	if cfg.FileErrorWait != 30*time.Second {
		t.Fatalf("unexpected file error wait %v", cfg.FileErrorWait)
	}
	if cfg.AgenticMaxSteps != 5 {
		t.Fatalf("unexpected agentic cap %d", cfg.AgenticMaxSteps)
	}
	if cfg.AnthropicAPIKey != "sk-ant-test" {
		t.Fatalf("unexpected key %q", cfg.AnthropicAPIKey)
	}
}

func TestLoad_ConfigFileLayering(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PLUGFORGE_ADDR", ":7777") // env must win over the file

	dir := filepath.Join(home, ".plugforge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "# comment\nPLUGFORGE_ADDR=:8888\nPLUGFORGE_MODEL=test-model\n\nnot a pair\n"
	if err := os.WriteFile(filepath.Join(dir, "config.env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	os.Unsetenv("PLUGFORGE_MODEL")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerAddr != ":7777" {
		t.Fatalf("expected env to win, got %q", cfg.ServerAddr)
	}
	if cfg.Model != "test-model" {
		t.Fatalf("expected file value for model, got %q", cfg.Model)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without any API key")
	}
	cfg.OpenAIAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestFeatureToggles(t *testing.T) {
	cfg := &Config{}
	if cfg.ExportEnabled() || cfg.SlackEnabled() || cfg.TelegramEnabled() {
		t.Fatal("expected all optional features disabled")
	}
	cfg.GitHubToken = "ghp_x"
	cfg.SlackBotToken = "xoxb-x"
	cfg.SlackChannel = "#builds"
	cfg.TelegramBotToken = "123:abc"
	cfg.TelegramChatID = 42
	if !cfg.ExportEnabled() || !cfg.SlackEnabled() || !cfg.TelegramEnabled() {
		t.Fatal("expected all optional features enabled")
	}
}
