// Package config handles PantryBot configuration loading.
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
// Then: ./config.yaml, ~/.config/pantrybot/config.yaml, /etc/pantrybot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pantrybot", "config.yaml"))
	}

	paths = append(paths, "/etc/pantrybot/config.yaml")
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

// Config holds all PantryBot configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	Grocy       GrocyConfig       `yaml:"grocy"`
	Spoonacular SpoonacularConfig `yaml:"spoonacular"`
	Chat        ChatConfig        `yaml:"chat"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	RecipeDir   string            `yaml:"recipe_dir"`
	LogLevel    string            `yaml:"log_level"`
}

// ListenConfig defines the WebSocket server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GrocyConfig defines the Grocy pantry backend connection.
type GrocyConfig struct {
	URL    string `yaml:"url"` // Base API URL, e.g. http://grocy.local:9283/api
	APIKey string `yaml:"api_key"`
	// InsecureTLS skips certificate verification. Self-hosted Grocy
	// instances frequently run with self-signed certificates.
	InsecureTLS bool `yaml:"insecure_tls"`
}

// SpoonacularConfig defines the recipe search backend.
type SpoonacularConfig struct {
	URL    string `yaml:"url"` // Base URL, defaults to the public API
	APIKey string `yaml:"api_key"`
}

// ChatConfig tunes the tool-calling chat cycle.
type ChatConfig struct {
	// MaxIterations bounds model round-trips per user turn (default 10).
	MaxIterations int `yaml:"max_iterations"`
	// HistoryTurns limits how many transcript messages are forwarded
	// to the model per call. 0 means unlimited.
	HistoryTurns int `yaml:"history_turns"`
	// ModelTimeoutSec bounds a single model call (default 120).
	ModelTimeoutSec int `yaml:"model_timeout_sec"`
	// ToolTimeoutSec bounds a single tool invocation (default 30).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
	// PingIntervalSec is the connection liveness probe interval (default 30).
	PingIntervalSec int `yaml:"ping_interval_sec"`
}

// ReconnectConfig tunes the client-side reconnect behavior.
type ReconnectConfig struct {
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// Durations derived from ChatConfig with defaults applied.

func (c ChatConfig) ModelTimeout() time.Duration {
	if c.ModelTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.ModelTimeoutSec) * time.Second
}

func (c ChatConfig) ToolTimeout() time.Duration {
	if c.ToolTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ToolTimeoutSec) * time.Second
}

func (c ChatConfig) PingInterval() time.Duration {
	if c.PingIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PingIntervalSec) * time.Second
}

// BaseDelay returns the reconnect base delay with the default applied.
func (r ReconnectConfig) BaseDelay() time.Duration {
	if r.BaseDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(r.BaseDelayMS) * time.Millisecond
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

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8093},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5-20250929",
		},
		Spoonacular: SpoonacularConfig{
			URL: "https://api.spoonacular.com",
		},
		Chat: ChatConfig{
			MaxIterations: 10,
			HistoryTurns:  20,
		},
		Reconnect: ReconnectConfig{
			BaseDelayMS: 1000,
			MaxAttempts: 5,
		},
		RecipeDir: "recipes",
	}
}
