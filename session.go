// Package agentmux defines the uniform session abstraction shared by all
// protocol adapters: the adapter contract, session/client/approval records,
// and their state machines. The manager package routes operations across
// adapters; the claudecli, codexcli, and acp packages implement the contract
// for their respective backends.
package agentmux

import (
	"time"
)

// AgentType identifies a supported backend family.
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
	AgentGemini AgentType = "gemini"
)

// PermissionMode controls how tool-use approvals are handled.
type PermissionMode string

const (
	// PermissionDefault surfaces interactive approval prompts.
	PermissionDefault PermissionMode = "default"
	// PermissionAcceptEdits auto-approves file edits only.
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	// PermissionBypass auto-approves everything (use with caution).
	PermissionBypass PermissionMode = "bypassPermissions"
	// PermissionPlan is read-only planning mode.
	PermissionPlan PermissionMode = "plan"
)

// Known reports whether the mode is one of the recognized values. Unknown
// modes are passed through only by adapters that explicitly support
// pass-through; others ignore them with a logged warning.
func (m PermissionMode) Known() bool {
	switch m {
	case PermissionDefault, PermissionAcceptEdits, PermissionBypass, PermissionPlan, "":
		return true
	}
	return false
}

// SessionStatus is the session lifecycle state machine.
type SessionStatus string

const (
	StatusStarting        SessionStatus = "starting"
	StatusRunning         SessionStatus = "running"
	StatusWaitingApproval SessionStatus = "waitingApproval"
	StatusCompleted       SessionStatus = "completed"
	StatusError           SessionStatus = "error"
	StatusKilled          SessionStatus = "killed"
)

// IsTerminal reports whether the status is permanent for this process
// incarnation. Terminal sessions remain queryable but not actionable.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusKilled
}

// Session is one conversation with one agent process. Exactly one adapter
// owns a session at any time; all mutation flows through the manager.
type Session struct {
	ID              string        `json:"id"`
	AgentType       AgentType     `json:"agentType"`
	Status          SessionStatus `json:"status"`
	CWD             string        `json:"cwd"`
	Name            string        `json:"name,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	NativeSessionID string        `json:"nativeSessionId,omitempty"`
	Model           string        `json:"model,omitempty"`
	ClientID        string        `json:"clientId,omitempty"`
}

// Clone returns a copy safe to hand to callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ClientStatus is the lifecycle state of a multi-session agent process.
type ClientStatus string

const (
	ClientStarting ClientStatus = "starting"
	ClientReady    ClientStatus = "ready"
	ClientError    ClientStatus = "error"
	ClientStopped  ClientStatus = "stopped"
)

// Capabilities are the feature flags a backend declares at initialize time.
type Capabilities struct {
	LoadSession     bool `json:"loadSession,omitempty"`
	ImageInput      bool `json:"imageInput,omitempty"`
	AudioInput      bool `json:"audioInput,omitempty"`
	EmbeddedContext bool `json:"embeddedContext,omitempty"`
}

// Client is one long-lived agent process that can host multiple sessions.
// A client must reach ClientReady before any session is created on it;
// destroying it cascades to its sessions and pending approvals.
type Client struct {
	ID           string       `json:"id"`
	AgentType    AgentType    `json:"agentType"`
	Status       ClientStatus `json:"status"`
	CWD          string       `json:"cwd"`
	Capabilities Capabilities `json:"capabilities"`
	Err          string       `json:"error,omitempty"`
}
