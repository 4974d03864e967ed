// Package config handles Taskherd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/taskherd/config.yaml, /etc/taskherd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskherd", "config.yaml"))
	}

	paths = append(paths, "/etc/taskherd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Taskherd configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Agent     AgentConfig     `yaml:"agent"`
	Auth      AuthConfig      `yaml:"auth"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to its provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama or anthropic
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	// MaxIterations bounds model/tool rounds per turn. The loop returns
	// a degraded reply once the cap is hit instead of spinning.
	MaxIterations int `yaml:"max_iterations"`
	// HistoryLimit is the number of recent messages loaded as context.
	HistoryLimit int `yaml:"history_limit"`
	// ModelTimeoutSec bounds each model query.
	ModelTimeoutSec int `yaml:"model_timeout_sec"`
	// ToolTimeoutSec bounds each tool execution.
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// ModelTimeout returns the per-query model deadline.
func (a AgentConfig) ModelTimeout() time.Duration {
	return time.Duration(a.ModelTimeoutSec) * time.Second
}

// ToolTimeout returns the per-call tool deadline.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutSec) * time.Second
}

// AuthConfig lists the bearer tokens accepted by the API.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig binds one bearer token to a user. TokenHash is a bcrypt
// hash of the token itself so the config file never holds the secret
// in the clear.
type TokenConfig struct {
	User      string `yaml:"user"`
	TokenHash string `yaml:"token_hash"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
			Available: []ModelConfig{
				{Name: "qwen3:4b", Provider: "ollama"},
			},
		},
		Agent: AgentConfig{
			MaxIterations:   6,
			HistoryLimit:    40,
			ModelTimeoutSec: 60,
			ToolTimeoutSec:  10,
		},
		DataDir:   "data",
		LogFormat: "text",
	}
}

// applyDefaults fills zero values left by partial YAML files.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 6
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 40
	}
	if c.Agent.ModelTimeoutSec <= 0 {
		c.Agent.ModelTimeoutSec = 60
	}
	if c.Agent.ToolTimeoutSec <= 0 {
		c.Agent.ToolTimeoutSec = 10
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	for _, m := range c.Models.Available {
		if m.Provider != "ollama" && m.Provider != "anthropic" {
			return fmt.Errorf("model %q: unknown provider %q (valid: ollama, anthropic)", m.Name, m.Provider)
		}
		if m.Provider == "anthropic" && !c.Anthropic.Configured() {
			return fmt.Errorf("model %q uses the anthropic provider but anthropic.api_key is not set", m.Name)
		}
	}
	for i, t := range c.Auth.Tokens {
		if t.User == "" {
			return fmt.Errorf("auth.tokens[%d]: user is required", i)
		}
		if t.TokenHash == "" {
			return fmt.Errorf("auth.tokens[%d]: token_hash is required", i)
		}
	}
	return nil
}
