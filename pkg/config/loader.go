package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads settings from the JSON file at configPath, layered over
// DefaultSettings and under PARLANCE_-prefixed environment variables. A
// missing file is not an error; defaults plus environment apply.
func Load(configPath string) (*Settings, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".parlance", "parlance.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("PARLANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults sit under both file and environment values. Keys must be
	// registered for AutomaticEnv to see them.
	defaults := DefaultSettings()
	v.SetDefault("api_key", defaults.APIKey)
	v.SetDefault("base_url", defaults.BaseURL)
	v.SetDefault("organization", defaults.Organization)
	v.SetDefault("model", defaults.Model)
	v.SetDefault("temperature", defaults.Temperature)
	v.SetDefault("max_tokens", defaults.MaxTokens)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("json_mode", defaults.JSONMode)
	v.SetDefault("stream", defaults.Stream)
	v.SetDefault("agent.max_turns", defaults.Agent.MaxTurns)
	v.SetDefault("agent.max_retries", defaults.Agent.MaxRetries)
	v.SetDefault("agent.system_prompt", defaults.Agent.SystemPrompt)
	v.SetDefault("agent.auto_save", defaults.Agent.AutoSave)
	v.SetDefault("agent.history_tokens", defaults.Agent.HistoryTokens)
	v.SetDefault("persistence.backend", defaults.Persistence.Backend)
	v.SetDefault("persistence.dir", defaults.Persistence.Dir)
	v.SetDefault("persistence.dsn", defaults.Persistence.DSN)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return settings, nil
}
