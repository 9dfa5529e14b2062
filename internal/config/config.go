// Package config loads and validates switchboard configuration from a yaml
// file, with environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
	"switchboard/internal/semantic"
	"switchboard/internal/store"
)

// Config holds all switchboard configuration.
type Config struct {
	// Routing thresholds and windows.
	Routing lane.RoutingConfig `yaml:"routing"`

	// Embedding provider for the semantic reranker.
	Embedding semantic.ProviderConfig `yaml:"embedding"`

	// Lane store backend.
	Storage store.Config `yaml:"storage"`

	// Categorized debug logging.
	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns the tuned defaults with persistence under the
// user's home directory.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	dbPath := ""
	if err == nil {
		dbPath = filepath.Join(home, ".switchboard", "lanes.db")
	}
	return &Config{
		Routing:   lane.DefaultRoutingConfig(),
		Embedding: semantic.DefaultProviderConfig(),
		Storage:   store.Config{Path: dbPath},
		Logging:   logging.Config{Level: "info"},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Routing.Normalize()
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment-sensitive values come from the
// environment without editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SWITCHBOARD_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SWITCHBOARD_DISABLE_PERSISTENCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.DisablePersistence = b
		}
	}
	if v := os.Getenv("SWITCHBOARD_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("SWITCHBOARD_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Embedding.GenAIAPIKey == "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_SEMANTIC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Routing.Semantic.Enabled = b
		}
	}
	if v := os.Getenv("SWITCHBOARD_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// Validate checks for configuration mistakes that would produce degenerate
// routing rather than hard failures.
func (c *Config) Validate() error {
	r := c.Routing
	if r.PrimaryThreshold < 0 || r.PrimaryThreshold > 1 {
		return fmt.Errorf("routing.primary_threshold must be in [0,1], got %v", r.PrimaryThreshold)
	}
	if r.SecondaryThreshold < 0 || r.SecondaryThreshold > 1 {
		return fmt.Errorf("routing.secondary_threshold must be in [0,1], got %v", r.SecondaryThreshold)
	}
	if r.SecondaryThreshold > r.PrimaryThreshold {
		return fmt.Errorf("routing.secondary_threshold (%v) must not exceed primary_threshold (%v)",
			r.SecondaryThreshold, r.PrimaryThreshold)
	}
	if r.SwitchMargin < 0 || r.SwitchMargin > 1 {
		return fmt.Errorf("routing.switch_margin must be in [0,1], got %v", r.SwitchMargin)
	}
	if r.MinHistoryTokenRatio < 0 || r.MinHistoryTokenRatio > 1 {
		return fmt.Errorf("routing.min_history_token_ratio must be in [0,1], got %v", r.MinHistoryTokenRatio)
	}
	if r.Semantic.Enabled && r.Semantic.Weight <= 0 {
		return fmt.Errorf("routing.semantic.weight must be positive when semantic rerank is enabled")
	}
	switch c.Embedding.Provider {
	case "", "ollama", "genai":
	default:
		return fmt.Errorf("embedding.provider must be 'ollama' or 'genai', got %q", c.Embedding.Provider)
	}
	return nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "switchboard.yaml"
	}
	return filepath.Join(home, ".switchboard", "config.yaml")
}
