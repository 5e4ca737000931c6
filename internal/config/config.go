// Package config loads and manages chatgrid configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (OLLAMA_API_URL, OPENAI_API_KEY, ANTHROPIC_API_KEY, CHATGRID_PORT)
// 2. Config file path specified via --config flag
// 3. ~/.config/chatgrid/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds configuration for a single backend.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Config is the complete configuration structure for chatgrid.
type Config struct {
	// Port the HTTP API listens on.
	Port int `yaml:"port"`

	// DataDir holds settings.json, system-prompts.json, and the compaction
	// archive. Empty = ~/.local/share/chatgrid.
	DataDir string `yaml:"data_dir"`

	// RequestTimeoutSeconds bounds each chat/summarize provider call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// Providers holds per-backend configuration, keyed by provider tag
	// ("ollama", "openai", "anthropic").
	Providers map[string]*ProviderConfig `yaml:"providers"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:                  3000,
		RequestTimeoutSeconds: 120,
		Providers: map[string]*ProviderConfig{
			"ollama": {BaseURL: "http://localhost:11434"},
		},
	}
}

// Load reads the config file and merges environment variable overrides.
// A missing file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "chatgrid", "config.yaml")
		}
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".local", "share", "chatgrid")
	}

	return cfg, nil
}

// GetProviderConfig returns the config for the named provider, or an empty
// config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

func applyEnvOverrides(cfg *Config) {
	ensure := func(name string) *ProviderConfig {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]*ProviderConfig)
		}
		if cfg.Providers[name] == nil {
			cfg.Providers[name] = &ProviderConfig{}
		}
		return cfg.Providers[name]
	}

	if v := os.Getenv("OLLAMA_API_URL"); v != "" {
		ensure("ollama").BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		ensure("openai").APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		ensure("anthropic").APIKey = v
	}
	if v := os.Getenv("CHATGRID_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
}
