// Package config loads agentmux configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AgentConfig overrides how one agent backend is launched.
type AgentConfig struct {
	// Binary is the executable path or name.
	Binary string `yaml:"binary"`

	// Args replace the default protocol-mode arguments.
	Args []string `yaml:"args"`

	// Model is the default model selector for new sessions.
	Model string `yaml:"model"`

	// Env are extra KEY=VALUE pairs for the agent process.
	Env []string `yaml:"env"`
}

// Config is the top-level configuration.
type Config struct {
	// StoreDir is where session metadata and event logs live.
	// Defaults to ~/.agentmux/sessions.
	StoreDir string `yaml:"store_dir"`

	// Agents holds per-backend overrides, keyed by agent type
	// ("claude", "codex", "gemini").
	Agents map[string]AgentConfig `yaml:"agents"`

	// SweepIntervalSeconds controls how often dead sessions are reaped.
	// Zero disables the periodic sweep.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentmux/config.yaml"
	}
	return filepath.Join(home, ".agentmux", "config.yaml")
}

func defaultConfig() *Config {
	cfg := &Config{Agents: map[string]AgentConfig{}}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.StoreDir = filepath.Join(home, ".agentmux", "sessions")
	} else {
		cfg.StoreDir = ".agentmux/sessions"
	}
	return cfg
}

// Load reads the config file at path. A missing file yields the defaults;
// a malformed one is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = defaultConfig().StoreDir
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]AgentConfig{}
	}
	return cfg, nil
}

// Agent returns the overrides for one agent type, zero-valued when absent.
func (c *Config) Agent(name string) AgentConfig {
	return c.Agents[name]
}
