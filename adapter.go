package agentmux

import (
	"context"

	"github.com/agentmux/agentmux/event"
)

// SpawnOptions describes a session to create.
type SpawnOptions struct {
	Type           AgentType
	CWD            string
	Prompt         string
	PermissionMode PermissionMode
	Model          string
	Env            []string

	// ClientID pins the session to an existing multi-session client.
	// Empty means the adapter picks or creates one.
	ClientID string

	// SessionID fixes the new session's id; empty lets the adapter generate
	// one. The manager always sets it, so that events the process emits
	// while Spawn is still in flight are already attributable.
	SessionID string
}

// Adapter is the uniform surface each backend protocol implements. The
// manager is the only caller; it owns routing, persistence, and fan-out.
//
// All methods are safe for concurrent use. Events from all of an adapter's
// sessions arrive on the single Events channel. The channel is never closed;
// after Dispose no further events are emitted on it.
type Adapter interface {
	// Type returns the backend family this adapter drives.
	Type() AgentType

	// Spawn starts a new session. On success the returned session is in
	// StatusStarting or StatusRunning and its process is up; on failure no
	// session is retained.
	Spawn(ctx context.Context, opts SpawnOptions) (*Session, error)

	// Kill terminates a session's process. Killing a session that is already
	// gone logs a warning and returns nil.
	Kill(sessionID string) error

	// SendMessage forwards user text to a running session. Returns
	// ErrNoActiveProcess if the session's process has exited.
	SendMessage(ctx context.Context, sessionID string, text string) error

	// Approve resolves a pending permission request positively. optionID
	// selects one of the request's options; empty picks the first allow
	// option. Unknown approval IDs return ErrUnknownApproval.
	Approve(approvalID, optionID string) error

	// Reject resolves a pending permission request negatively.
	Reject(approvalID, reason string) error

	// Alive reports whether the session's backend process is still running.
	Alive(sessionID string) bool

	// Events is the adapter's merged event stream.
	Events() <-chan event.Event

	// Dispose kills all sessions and releases resources. Safe to call twice.
	Dispose() error
}
