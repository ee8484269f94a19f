package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

var (
	runAgent       string
	runCWD         string
	runModel       string
	runMode        string
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run one agent session and stream its output",
	Long: `Spawn an agent with the given prompt, stream its canonical events to
stdout, and exit when the session completes.

Permission requests block the agent until answered. With --auto-approve
each request is approved with the backend's default allow option; without
it, requests are rejected so the run cannot hang unattended.

Example:
  agentmux run "What is 2+2?" --agent claude --mode bypassPermissions
  agentmux run "Refactor the parser" --agent gemini --cwd ~/src/parser`,
	Args: cobra.ExactArgs(1),
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&runAgent, "agent", "claude", "Agent backend: claude, codex, gemini")
	runCmd.Flags().StringVar(&runCWD, "cwd", "", "Working directory for the agent (default: current)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model selector")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Permission mode: default, acceptEdits, bypassPermissions, plan")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Approve every permission request")

	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	m, cfg, err := newManager()
	if err != nil {
		return err
	}
	defer m.Dispose()

	cwd := runCWD
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.SweepIntervalSeconds > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.SweepIntervalSeconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.CleanupSweep()
				}
			}
		}()
	}

	subID, events := m.Subscribe()
	defer m.Unsubscribe(subID)

	sess, err := m.Spawn(ctx, agentmux.SpawnOptions{
		Type:           agentmux.AgentType(runAgent),
		CWD:            cwd,
		Prompt:         args[0],
		Model:          runModel,
		PermissionMode: agentmux.PermissionMode(runMode),
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = m.Kill(sess.ID)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.SessionID != sess.ID {
				continue
			}
			renderEvent(ev)
			if ev.Type == event.TypeApprovalRequest {
				decideApproval(m, ev)
			}
			if ev.Type == event.TypeComplete {
				return completionError(ev)
			}
		}
	}
}

func decideApproval(m approver, ev event.Event) {
	id := ev.ApprovalRequest.ApprovalID
	if runAutoApprove {
		if err := m.Approve(id, ""); err != nil {
			fmt.Fprintf(os.Stderr, "approve failed: %v\n", err)
		}
		return
	}
	if err := m.Reject(id, "unattended run"); err != nil {
		fmt.Fprintf(os.Stderr, "reject failed: %v\n", err)
	}
}

type approver interface {
	Approve(approvalID, optionID string) error
	Reject(approvalID, reason string) error
}

func renderEvent(ev event.Event) {
	switch ev.Type {
	case event.TypeInit:
		fmt.Printf("[session %s]", ev.Init.NativeSessionID)
		if ev.Init.Model != "" {
			fmt.Printf(" model=%s", ev.Init.Model)
		}
		fmt.Println()
	case event.TypeMessage:
		prefix := ""
		if ev.Message.IsUser {
			prefix = "> "
		}
		fmt.Printf("%s%s\n", prefix, ev.Message.Content)
	case event.TypeThinking:
		fmt.Printf("(thinking) %s\n", ev.Thinking.Content)
	case event.TypeToolCall:
		fmt.Printf("[tool] %s (%s)\n", ev.ToolCall.Title, ev.ToolCall.Status)
	case event.TypeToolUpdate:
		fmt.Printf("[tool %s] %s\n", ev.ToolUpdate.ToolCallID, ev.ToolUpdate.Status)
	case event.TypePlan:
		fmt.Println("[plan]")
		for _, entry := range ev.Plan.Entries {
			fmt.Printf("  - %s (%s)\n", entry.Content, entry.Status)
		}
	case event.TypeApprovalRequest:
		fmt.Printf("[approval] %s\n", ev.ApprovalRequest.ToolCall.Title)
	case event.TypeApprovalResponse:
		fmt.Printf("[approval %s] %s\n", ev.ApprovalResponse.ApprovalID, ev.ApprovalResponse.Action)
	case event.TypeError:
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.Error.Message)
	case event.TypeComplete:
		if ev.Complete.StopReason != "" {
			fmt.Printf("[done] %s\n", ev.Complete.StopReason)
		} else if ev.Complete.ExitCode != nil {
			fmt.Printf("[done] exit %d\n", *ev.Complete.ExitCode)
		}
	}
}

func completionError(ev event.Event) error {
	if c := ev.Complete; c != nil && c.ExitCode != nil && *c.ExitCode != 0 {
		return fmt.Errorf("agent exited with code %d", *c.ExitCode)
	}
	return nil
}
