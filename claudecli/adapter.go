package claudecli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

// Adapter spawns one CLI process per session and normalizes its line stream
// into canonical events. Implements agentmux.Adapter.
type Adapter struct {
	config Config
	events chan event.Event

	mu       sync.Mutex
	sessions map[string]*liveSession
	disposed bool
}

type liveSession struct {
	sess   *agentmux.Session
	pm     *processManager
	killed bool
}

// New creates the adapter.
func New(opts ...Option) *Adapter {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Adapter{
		config:   config,
		events:   make(chan event.Event, config.EventBufferSize),
		sessions: make(map[string]*liveSession),
	}
}

// Type returns the backend family.
func (a *Adapter) Type() agentmux.AgentType {
	return agentmux.AgentClaude
}

// Spawn starts a new single-shot session for the prompt.
func (a *Adapter) Spawn(ctx context.Context, opts agentmux.SpawnOptions) (*agentmux.Session, error) {
	return a.spawn(ctx, opts, "")
}

// Resume starts a fresh process continuing a previous native session via
// the backend's own conversation history.
func (a *Adapter) Resume(ctx context.Context, nativeSessionID string, opts agentmux.SpawnOptions) (*agentmux.Session, error) {
	if nativeSessionID == "" {
		return nil, fmt.Errorf("native session id must not be empty")
	}
	return a.spawn(ctx, opts, nativeSessionID)
}

func (a *Adapter) spawn(ctx context.Context, opts agentmux.SpawnOptions, resume string) (*agentmux.Session, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	if opts.CWD != "" {
		if info, err := os.Stat(opts.CWD); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("working directory %q does not exist", opts.CWD)
		}
	}

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil, agentmux.ErrDisposed
	}
	a.mu.Unlock()

	pm := newProcessManager(spawnSpec{
		Prompt:         opts.Prompt,
		CWD:            opts.CWD,
		Model:          opts.Model,
		PermissionMode: opts.PermissionMode,
		Resume:         resume,
		Env:            opts.Env,
	}, a.config)

	if err := pm.Start(ctx); err != nil {
		return nil, err
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	sess := &agentmux.Session{
		ID:              id,
		AgentType:       agentmux.AgentClaude,
		Status:          agentmux.StatusRunning,
		CWD:             opts.CWD,
		NativeSessionID: resume,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	ls := &liveSession{sess: sess, pm: pm}
	a.mu.Lock()
	a.sessions[sess.ID] = ls
	a.mu.Unlock()

	go a.readLoop(ls)
	return sess.Clone(), nil
}

// readLoop consumes stdout lines until EOF, then reaps the process and emits
// the terminal event. The exit code is the completion authority.
func (a *Adapter) readLoop(ls *liveSession) {
	id := ls.sess.ID
	for {
		line, err := ls.pm.ReadLine()
		if err != nil {
			break
		}
		if len(line) == 0 {
			continue
		}
		a.handleLine(id, line)
	}

	code, waitErr := ls.pm.Wait()

	a.mu.Lock()
	killed := ls.killed
	a.mu.Unlock()

	switch {
	case killed:
		// Kill already emitted the terminal event.
	case waitErr != nil:
		a.emit(event.NewError(id, fmt.Sprintf("process wait failed: %v", waitErr)))
	case code == 0:
		a.emit(event.NewComplete(id, 0))
	default:
		a.emit(event.NewError(id, fmt.Sprintf("process exited with code %d", code)))
		a.emit(event.NewComplete(id, code))
	}
}

// handleLine dispatches one stdout line. Unparseable or unrecognized lines
// are preserved as raw events, never dropped.
func (a *Adapter) handleLine(sessionID string, line []byte) {
	msg, err := ParseMessage(line)
	if err != nil {
		slog.Warn("preserving unparseable stream line as raw event", "error", err)
		a.emit(event.NewRaw(sessionID, line))
		return
	}
	if msg == nil {
		return
	}

	switch m := msg.(type) {
	case *SystemInitMessage:
		a.emit(event.NewInit(sessionID, event.InitPayload{
			NativeSessionID: m.SessionID,
			Model:           m.Model,
			CWD:             m.CWD,
			PermissionMode:  m.PermissionMode,
		}))

	case *AssistantMessage:
		for _, block := range m.Message.Content {
			switch block.Type {
			case "text":
				a.emit(event.NewMessage(sessionID, "assistant", block.Text))
			case "thinking":
				a.emit(event.NewThinking(sessionID, block.Thinking))
			case "tool_use":
				a.emit(event.NewToolCall(sessionID, event.ToolCallPayload{
					ToolCallID: block.ID,
					Title:      block.Name,
					Status:     "running",
					Input:      block.Input,
				}))
			default:
				slog.Warn("skipping unknown assistant content block", "type", block.Type)
			}
		}

	case *UserMessage:
		for _, block := range m.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			status := "completed"
			if block.IsError {
				status = "failed"
			}
			a.emit(event.NewToolUpdate(sessionID, event.ToolUpdatePayload{
				ToolCallID: block.ToolUseID,
				Status:     status,
				Content:    block.Content,
				IsError:    block.IsError,
			}))
		}

	case *ResultMessage:
		if m.IsError {
			a.emit(event.NewError(sessionID, m.Result))
		} else if m.Result != "" {
			a.emit(event.NewMessage(sessionID, "assistant", m.Result))
		}

	default:
		a.emit(event.NewRaw(sessionID, line))
	}
}

// emit blocks until the consumer takes the event. The manager's pump is the
// sole reader, so a full buffer means backpressure, not loss.
func (a *Adapter) emit(ev event.Event) {
	a.events <- ev
}

// Kill terminates the session's process group. The terminal event is emitted
// immediately; the read loop observes the killed flag and stays quiet.
func (a *Adapter) Kill(sessionID string) error {
	a.mu.Lock()
	ls, ok := a.sessions[sessionID]
	if ok && !ls.killed {
		ls.killed = true
	} else if ok {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if !ok {
		slog.Warn("kill requested for unknown or finished session", "session", sessionID)
		return nil
	}

	_ = ls.pm.Stop()
	a.emit(event.NewCompleteReason(sessionID, "killed"))
	return nil
}

// SendMessage writes text to the process stdin. The single-shot stream
// protocol has no real input channel mid-run, so delivery is best-effort.
func (a *Adapter) SendMessage(ctx context.Context, sessionID string, text string) error {
	a.mu.Lock()
	ls, ok := a.sessions[sessionID]
	a.mu.Unlock()

	if !ok {
		return agentmux.ErrUnknownSession
	}
	if !ls.pm.Alive() {
		return agentmux.ErrNoActiveProcess
	}

	slog.Warn("stdin delivery to a single-shot session is best-effort", "session", sessionID)
	return ls.pm.WriteStdin(append([]byte(text), '\n'))
}

// Approve resolves an approval permissively. This backend exposes no
// protocol-level approval channel, so the resolution event is synthesized
// and a warning names the spawn-time alternative.
func (a *Adapter) Approve(approvalID, optionID string) error {
	return a.resolveApproval(approvalID, "approved", optionID, "")
}

// Reject resolves an approval permissively, mirroring Approve.
func (a *Adapter) Reject(approvalID, reason string) error {
	return a.resolveApproval(approvalID, "rejected", "", reason)
}

func (a *Adapter) resolveApproval(approvalID, action, optionID, reason string) error {
	slog.Warn("backend has no approval channel, resolution is advisory only",
		"approval", approvalID,
		"action", action,
		"hint", "use bypassPermissions or acceptEdits at spawn time")
	a.emit(event.NewApprovalResponse("", event.ApprovalResponsePayload{
		ApprovalID: approvalID,
		Action:     action,
		OptionID:   optionID,
		Reason:     reason,
	}))
	return nil
}

// Alive reports whether the session's process is running.
func (a *Adapter) Alive(sessionID string) bool {
	a.mu.Lock()
	ls, ok := a.sessions[sessionID]
	a.mu.Unlock()
	return ok && ls.pm.Alive()
}

// Events returns the adapter's merged event stream.
func (a *Adapter) Events() <-chan event.Event {
	return a.events
}

// Dispose kills every session. Safe to call twice.
func (a *Adapter) Dispose() error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil
	}
	a.disposed = true
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		_ = a.Kill(id)
	}
	return nil
}
