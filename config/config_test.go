package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDir == "" {
		t.Error("default StoreDir is empty")
	}
	if cfg.Agents == nil {
		t.Error("Agents map is nil")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `store_dir: /var/lib/agentmux
sweep_interval_seconds: 60
agents:
  claude:
    binary: /usr/local/bin/claude
    model: opus
    env:
      - ANTHROPIC_LOG=debug
  codex:
    binary: codex-nightly
    args: [app-server, --verbose]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDir != "/var/lib/agentmux" {
		t.Errorf("StoreDir = %q", cfg.StoreDir)
	}
	if cfg.SweepIntervalSeconds != 60 {
		t.Errorf("SweepIntervalSeconds = %d", cfg.SweepIntervalSeconds)
	}

	claude := cfg.Agent("claude")
	if claude.Binary != "/usr/local/bin/claude" || claude.Model != "opus" {
		t.Errorf("claude overrides = %+v", claude)
	}
	if len(claude.Env) != 1 || claude.Env[0] != "ANTHROPIC_LOG=debug" {
		t.Errorf("claude env = %v", claude.Env)
	}

	codex := cfg.Agent("codex")
	if len(codex.Args) != 2 || codex.Args[0] != "app-server" {
		t.Errorf("codex args = %v", codex.Args)
	}

	// Absent agents are zero-valued, not an error.
	if gemini := cfg.Agent("gemini"); gemini.Binary != "" {
		t.Errorf("gemini = %+v", gemini)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store_dir: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
