package claudecli

import (
	"context"
	"strings"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

// QueryResult is the outcome of a one-shot Query.
type QueryResult struct {
	// Text is the concatenated assistant message text.
	Text string
	// ExitCode is the process exit code.
	ExitCode int
	// Events is the full canonical event sequence observed.
	Events []event.Event
}

// Query runs a single prompt to completion on a dedicated adapter and
// collects the results. Convenience for scripting and the CLI.
func Query(ctx context.Context, prompt string, opts ...Option) (*QueryResult, error) {
	a := New(opts...)
	defer a.Dispose()

	sess, err := a.Spawn(ctx, agentmux.SpawnOptions{
		Type:   agentmux.AgentClaude,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	result := &QueryResult{}
	var text strings.Builder

	for {
		select {
		case <-ctx.Done():
			_ = a.Kill(sess.ID)
			return nil, ctx.Err()
		case ev, ok := <-a.Events():
			if !ok {
				result.Text = text.String()
				return result, nil
			}
			if ev.SessionID != sess.ID {
				continue
			}
			result.Events = append(result.Events, ev)
			switch ev.Type {
			case event.TypeMessage:
				if !ev.Message.IsUser {
					text.WriteString(ev.Message.Content)
				}
			case event.TypeComplete:
				if ev.Complete.ExitCode != nil {
					result.ExitCode = *ev.Complete.ExitCode
				}
				result.Text = text.String()
				return result, nil
			}
		}
	}
}
