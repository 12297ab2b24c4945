package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RepoConfig identifies the GitHub repository the dashboard serves.
type RepoConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
}

// Config is the service configuration, loaded from
// <configDir>/config.yaml with environment overrides.
type Config struct {
	Repo RepoConfig `yaml:"repo"`

	// AgentEndpoint overrides the agent API base URL. Empty uses the
	// client default.
	AgentEndpoint string `yaml:"agent_endpoint"`

	// PollIntervalSeconds is the reconciliation sweep interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// Workers bounds concurrent per-session reconciliations per sweep.
	Workers int `yaml:"workers"`

	// DisableBlockedComments is a truthy string ("true"/"1"/"yes",
	// case-insensitive) suppressing tracker comments for blocked
	// sessions. Env AGENTBOARD_DISABLE_BLOCKED_COMMENTS overrides it.
	DisableBlockedComments string `yaml:"disable_blocked_comments"`
}

// PollInterval returns the sweep interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// BlockedCommentsDisabled resolves the suppression flag, preferring the
// environment variable when set. Comments are enabled by default.
func (c Config) BlockedCommentsDisabled() bool {
	if env := os.Getenv("AGENTBOARD_DISABLE_BLOCKED_COMMENTS"); env != "" {
		return Truthy(env)
	}
	return Truthy(c.DisableBlockedComments)
}

// Truthy reports whether s is an accepted true value: "true", "1", or
// "yes", case-insensitive.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Load reads <configDir>/config.yaml, applies defaults, and validates.
func Load(configDir string) (Config, error) {
	path := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 30
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
}

// Validate checks required fields.
func Validate(cfg Config) error {
	if cfg.Repo.Owner == "" {
		return fmt.Errorf("repo.owner is required")
	}
	if cfg.Repo.Name == "" {
		return fmt.Errorf("repo.name is required")
	}
	return nil
}
