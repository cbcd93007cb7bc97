package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// configKey describes a single configuration value.
type configKey struct {
	Key    string
	Desc   string
	Secret bool
}

// allConfigKeys lists every configurable value in display order.
var allConfigKeys = []configKey{
	{"ANTHROPIC_API_KEY", "Anthropic API key", true},
	{"OPENAI_API_KEY", "OpenAI API key", true},
	{"PLUGFORGE_MODEL", "Model identifier (empty = provider default)", false},
	{"PLUGFORGE_ADDR", "Server listen address", false},
	{"PLUGFORGE_DATA_DIR", "Data directory", false},
	{"PLUGFORGE_FILE_ERROR_WAIT", "Wait before skipping a failed file (e.g. 2m)", false},
	{"GITHUB_TOKEN", "GitHub token for project export (optional)", true},
	{"SLACK_BOT_TOKEN", "Slack bot token for notifications (optional)", true},
	{"SLACK_CHANNEL", "Slack channel for notifications", false},
	{"TELEGRAM_BOT_TOKEN", "Telegram bot token for notifications (optional)", true},
	{"TELEGRAM_CHAT_ID", "Telegram chat ID for notifications", false},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage PlugForge configuration",
	Long: `Manage PlugForge configuration (API keys, server settings).

Configuration is stored in ~/.plugforge/config.env and can be overridden
by environment variables.

  plugforge config set KEY VALUE      Set a single config value
  plugforge config show               Show current configuration
  plugforge config path               Print config file path`,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a config value",
	Long: `Set a single configuration value. Example:
  plugforge config set ANTHROPIC_API_KEY sk-ant-xxxxxxxx`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display all configured values. Secrets are masked.",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(configFilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	values, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	values[key] = value
	if err := saveConfigFile(values); err != nil {
		return err
	}

	fmt.Printf("Set %s in %s\n", key, configFilePath())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	values, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	fmt.Printf("Configuration (%s):\n\n", configFilePath())
	for _, ck := range allConfigKeys {
		v := effectiveValue(ck.Key, values)
		display := "(not set)"
		if v != "" {
			display = v
			if ck.Secret {
				display = maskSecret(v)
			}
		}
		fmt.Printf("  %-28s %s\n", ck.Key, display)
	}
	return nil
}

// configFilePath returns ~/.plugforge/config.env.
func configFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".plugforge", "config.env")
	}
	return filepath.Join(home, ".plugforge", "config.env")
}

// loadConfigFile reads key=value pairs from the config file.
func loadConfigFile() (map[string]string, error) {
	values := make(map[string]string)
	path := configFilePath()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			values[parts[0]] = parts[1]
		}
	}
	return values, scanner.Err()
}

// saveConfigFile writes key=value pairs to the config file.
func saveConfigFile(values map[string]string) error {
	path := configFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# PlugForge configuration")
	fmt.Fprintln(f, "# Managed by: plugforge config")
	fmt.Fprintln(f, "# Environment variables override these values.")
	fmt.Fprintln(f)

	// Write in a stable order: known keys first, then any extras.
	written := make(map[string]bool)
	for _, ck := range allConfigKeys {
		if v, ok := values[ck.Key]; ok && v != "" {
			fmt.Fprintf(f, "%s=%s\n", ck.Key, v)
			written[ck.Key] = true
		}
	}

	var extras []string
	for k := range values {
		if !written[k] && values[k] != "" {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		fmt.Fprintf(f, "%s=%s\n", k, values[k])
	}

	return nil
}

// effectiveValue returns the current value for a key, preferring env vars
// over the config file.
func effectiveValue(key string, fileValues map[string]string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

// maskSecret masks a secret string, showing only the first 4 and last 4
// characters.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
