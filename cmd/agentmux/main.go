// agentmux - drive multiple AI coding-agent CLIs through one session layer.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/acp"
	"github.com/agentmux/agentmux/claudecli"
	"github.com/agentmux/agentmux/codexcli"
	"github.com/agentmux/agentmux/config"
	"github.com/agentmux/agentmux/manager"
	"github.com/agentmux/agentmux/store"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentmux",
	Short: "Drive multiple AI coding agents through one session layer",
	Long: `agentmux - drive multiple AI coding-agent CLIs through one uniform
session abstraction: spawn an agent against a working directory, stream its
output as canonical events, forward messages, and mediate permission
requests.

Supported backends: claude (streaming print mode), codex (app-server),
gemini (ACP).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// newManager wires the store and all three adapters from the config file.
func newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.NewFileStore(cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}

	m := manager.New(st)
	m.Register(claudecli.New(claudeOptions(cfg.Agent("claude"))...))
	m.Register(codexcli.New(codexOptions(cfg.Agent("codex"))...))
	m.Register(acp.New(acpOptions(cfg.Agent("gemini"))...))
	return m, cfg, nil
}

func claudeOptions(ac config.AgentConfig) []claudecli.Option {
	var opts []claudecli.Option
	if ac.Binary != "" {
		opts = append(opts, claudecli.WithBinaryPath(ac.Binary))
	}
	if ac.Model != "" {
		opts = append(opts, claudecli.WithModel(ac.Model))
	}
	if len(ac.Env) > 0 {
		opts = append(opts, claudecli.WithEnv(ac.Env...))
	}
	return opts
}

func codexOptions(ac config.AgentConfig) []codexcli.Option {
	var opts []codexcli.Option
	if ac.Binary != "" {
		opts = append(opts, codexcli.WithBinaryPath(ac.Binary))
	}
	if len(ac.Args) > 0 {
		opts = append(opts, codexcli.WithArgs(ac.Args...))
	}
	if ac.Model != "" {
		opts = append(opts, codexcli.WithModel(ac.Model))
	}
	if len(ac.Env) > 0 {
		opts = append(opts, codexcli.WithEnv(ac.Env...))
	}
	return opts
}

func acpOptions(ac config.AgentConfig) []acp.AdapterOption {
	var clientOpts []acp.ClientOption
	if ac.Binary != "" {
		clientOpts = append(clientOpts, acp.WithBinaryPath(ac.Binary))
	}
	if len(ac.Args) > 0 {
		clientOpts = append(clientOpts, acp.WithArgs(ac.Args...))
	}
	if len(ac.Env) > 0 {
		clientOpts = append(clientOpts, acp.WithEnv(ac.Env...))
	}
	if len(clientOpts) == 0 {
		return nil
	}
	return []acp.AdapterOption{acp.WithClientOptions(clientOpts...)}
}
