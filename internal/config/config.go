// Package config loads the orchestrator's single configuration
// document: a *koanf.Koanf instance fed by a file provider and a yaml
// parser, unmarshalled into a typed struct. Configuration is read once
// at startup; there is no hot-reload path.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
)

// LLM holds the LLM gateway connection details.
type LLM struct {
	BaseURL     string        `koanf:"base_url" yaml:"base_url"`
	Model       string        `koanf:"model" yaml:"model"`
	APIKeyEnv   string        `koanf:"api_key_env" yaml:"api_key_env"`
	HTTPTimeout time.Duration `koanf:"http_timeout" yaml:"http_timeout"`
	MaxRetries  int           `koanf:"max_retries" yaml:"max_retries"`
	Temperature float64       `koanf:"temperature" yaml:"temperature"`
	MaxTokens   int           `koanf:"max_tokens" yaml:"max_tokens"`
}

// ToolServer is one entry in the tool-server map.
type ToolServer struct {
	Command string            `koanf:"command" yaml:"command"`
	Args    []string          `koanf:"args" yaml:"args"`
	Env     map[string]string `koanf:"env" yaml:"env,omitempty"`
	Cwd     string            `koanf:"cwd" yaml:"cwd,omitempty"`
	Enabled bool              `koanf:"enabled" yaml:"enabled"`
}

// Config is the full configuration document.
type Config struct {
	LLM                 LLM                   `koanf:"llm" yaml:"llm"`
	ToolCallTimeout     time.Duration         `koanf:"tool_call_timeout" yaml:"tool_call_timeout"`
	HandshakeTimeout    time.Duration         `koanf:"handshake_timeout" yaml:"handshake_timeout"`
	ToolServers         map[string]ToolServer `koanf:"tool_servers" yaml:"tool_servers,omitempty"`
	WorkflowStateDir    string                `koanf:"workflow_state_dir" yaml:"workflow_state_dir"`
	FeedbackHistorySize int                   `koanf:"feedback_history_size" yaml:"feedback_history_size"`
}

// defaults returns the documented default timeouts and feedback
// history capacity.
func defaults() Config {
	return Config{
		LLM: LLM{
			APIKeyEnv:   "ORCHESTRATOR_LLM_API_KEY",
			HTTPTimeout: 60 * time.Second,
			MaxRetries:  3,
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		ToolCallTimeout:     10 * time.Second,
		HandshakeTimeout:    15 * time.Second,
		ToolServers:         map[string]ToolServer{},
		WorkflowStateDir:    "~/.orchestrator/workflows",
		FeedbackHistorySize: 1000,
	}
}

// Load reads a YAML configuration document from path using koanf's
// file provider, merging it over the documented defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errs.Wrap(errs.ConfigError, fmt.Sprintf("reading config file %q", path), err)
	}

	out := defaults()
	if err := k.Unmarshal("", &out); err != nil {
		return nil, errs.Wrap(errs.ConfigError, "unmarshalling config", err)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks the required invariants: an LLM model and base URL
// must be set, and every enabled tool server must have a non-empty
// command.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return errs.New(errs.ConfigError, "llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return errs.New(errs.ConfigError, "llm.model is required")
	}
	for name, ts := range c.ToolServers {
		if ts.Enabled && ts.Command == "" {
			return errs.New(errs.ConfigError, fmt.Sprintf("tool server %q has no command", name))
		}
	}
	return nil
}
