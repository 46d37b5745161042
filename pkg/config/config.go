package config

import (
	"fmt"
	"time"

	"github.com/parlancehq/parlance/pkg/agent"
	"github.com/parlancehq/parlance/pkg/persistence"
	"github.com/parlancehq/parlance/pkg/provider"
)

// Settings is the top-level configuration.
type Settings struct {
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url"`
	Organization string  `json:"organization" mapstructure:"organization"`
	Model        string  `json:"model" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	// MaxTokens caps model output per completion.
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`
	// Timeout bounds each HTTP request, in seconds.
	Timeout  int  `json:"timeout" mapstructure:"timeout"`
	JSONMode bool `json:"json_mode" mapstructure:"json_mode"`
	Stream   bool `json:"stream" mapstructure:"stream"`

	Agent       AgentSettings       `json:"agent" mapstructure:"agent"`
	Persistence PersistenceSettings `json:"persistence" mapstructure:"persistence"`
}

// AgentSettings configures the orchestration loop.
type AgentSettings struct {
	MaxTurns      int    `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries    int    `json:"max_retries" mapstructure:"max_retries"`
	SystemPrompt  string `json:"system_prompt" mapstructure:"system_prompt"`
	AutoSave      bool   `json:"auto_save" mapstructure:"auto_save"`
	HistoryTokens int    `json:"history_tokens" mapstructure:"history_tokens"`
}

// PersistenceSettings selects the conversation store.
type PersistenceSettings struct {
	Backend string `json:"backend" mapstructure:"backend"`
	Dir     string `json:"dir" mapstructure:"dir"`
	DSN     string `json:"dsn" mapstructure:"dsn"`
}

// DefaultSettings returns the defaults applied underneath file and
// environment values.
func DefaultSettings() *Settings {
	return &Settings{
		Model:       "gpt-4o",
		Temperature: 0.7,
		Timeout:     120,
		Agent: AgentSettings{
			MaxTurns:   10,
			MaxRetries: 3,
		},
		Persistence: PersistenceSettings{
			Backend: "memory",
		},
	}
}

// Validate checks the settings for values no component would accept.
func (s *Settings) Validate() error {
	if s.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", s.Temperature)
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if s.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns cannot be negative")
	}
	if s.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries cannot be negative")
	}
	switch s.Persistence.Backend {
	case "", "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unknown persistence backend %q", s.Persistence.Backend)
	}
	return nil
}

// ProviderConfig maps the settings onto a provider transport config.
func (s *Settings) ProviderConfig() provider.Config {
	return provider.Config{
		APIKey:       s.APIKey,
		BaseURL:      s.BaseURL,
		Organization: s.Organization,
		Timeout:      time.Duration(s.Timeout) * time.Second,
	}
}

// AgentConfig maps the settings onto an agent config.
func (s *Settings) AgentConfig() agent.Config {
	return agent.Config{
		Model:           s.Model,
		SystemPrompt:    s.Agent.SystemPrompt,
		Temperature:     s.Temperature,
		MaxOutputTokens: s.MaxTokens,
		HistoryTokens:   s.Agent.HistoryTokens,
		MaxTurns:        s.Agent.MaxTurns,
		MaxRetries:      s.Agent.MaxRetries,
		AutoSave:        s.Agent.AutoSave,
	}
}

// PersistenceConfig maps the settings onto a store config.
func (s *Settings) PersistenceConfig() persistence.Config {
	return persistence.Config{
		Backend: s.Persistence.Backend,
		Dir:     s.Persistence.Dir,
		DSN:     s.Persistence.DSN,
	}
}
