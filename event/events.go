// Package event defines the canonical, backend-agnostic event taxonomy that
// all protocol adapters normalize into. Events are immutable records in a
// session's timeline; the manager timestamps, merges, and persists them in
// the order each backend emitted them.
package event

import (
	"encoding/json"
	"time"
)

// Type discriminates canonical event kinds.
type Type string

const (
	TypeMessage          Type = "message"
	TypeThinking         Type = "thinking"
	TypeToolCall         Type = "tool-call"
	TypeToolUpdate       Type = "tool-update"
	TypePlan             Type = "plan"
	TypeApprovalRequest  Type = "approval-request"
	TypeApprovalResponse Type = "approval-response"
	TypeInit             Type = "init"
	TypeComplete         Type = "complete"
	TypeError            Type = "error"

	// TypeRaw is the escape hatch for frames that could not be parsed or
	// matched. The offending line is carried verbatim in the Raw payload.
	TypeRaw Type = "raw"

	// TypeModeChange is an internal signal consumed by the manager to refresh
	// session metadata (permission mode, model). It is never persisted and
	// never fanned out to subscribers.
	TypeModeChange Type = "mode-change"
)

// Event is a single record in a session's timeline. Exactly one payload
// field is populated, matching Type.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Message          *MessagePayload          `json:"message,omitempty"`
	Thinking         *ThinkingPayload         `json:"thinking,omitempty"`
	ToolCall         *ToolCallPayload         `json:"toolCall,omitempty"`
	ToolUpdate       *ToolUpdatePayload       `json:"toolUpdate,omitempty"`
	Plan             *PlanPayload             `json:"plan,omitempty"`
	ApprovalRequest  *ApprovalRequestPayload  `json:"approvalRequest,omitempty"`
	ApprovalResponse *ApprovalResponsePayload `json:"approvalResponse,omitempty"`
	Init             *InitPayload             `json:"init,omitempty"`
	Complete         *CompletePayload         `json:"complete,omitempty"`
	Error            *ErrorPayload            `json:"error,omitempty"`
	Raw              json.RawMessage          `json:"raw,omitempty"`
	ModeChange       *ModeChangePayload       `json:"modeChange,omitempty"`
}

// Internal reports whether the event is a manager-consumed signal that must
// not be persisted or fanned out.
func (e Event) Internal() bool {
	return e.Type == TypeModeChange
}

// MessagePayload carries user or agent message text.
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	IsUser  bool   `json:"isUser,omitempty"`
}

// ThinkingPayload carries reasoning/chain-of-thought text.
type ThinkingPayload struct {
	Content string `json:"content"`
}

// ToolCallPayload describes a tool invocation starting.
type ToolCallPayload struct {
	ToolCallID string                 `json:"toolCallId"`
	Title      string                 `json:"title"`
	Kind       string                 `json:"kind,omitempty"`
	Status     string                 `json:"status"`
	Input      map[string]interface{} `json:"input,omitempty"`
}

// ToolUpdatePayload describes a status or content change on a prior tool call.
type ToolUpdatePayload struct {
	ToolCallID string      `json:"toolCallId"`
	Status     string      `json:"status"`
	Content    interface{} `json:"content,omitempty"`
	IsError    bool        `json:"isError,omitempty"`
}

// PlanPayload carries an agent's execution plan.
type PlanPayload struct {
	Entries []PlanEntry `json:"entries"`
}

// PlanEntry is a single step in a plan.
type PlanEntry struct {
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}

// ToolCallRef identifies the tool call an approval is blocking on.
type ToolCallRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind,omitempty"`
}

// PermissionOption is one discrete choice a backend offers for an approval.
type PermissionOption struct {
	ID   string `json:"optionId"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "allow_once", "allow_always", "reject_once", "reject_always"
}

// ApprovalRequestPayload is the full approval record at request time.
type ApprovalRequestPayload struct {
	ApprovalID string             `json:"approvalId"`
	ClientID   string             `json:"clientId,omitempty"`
	Status     string             `json:"status"`
	CreatedAt  time.Time          `json:"createdAt"`
	ToolCall   ToolCallRef        `json:"toolCall"`
	Options    []PermissionOption `json:"options"`
}

// ApprovalResponsePayload records the operator's decision.
type ApprovalResponsePayload struct {
	ApprovalID string `json:"approvalId"`
	Action     string `json:"action"` // "approved" or "rejected"
	OptionID   string `json:"optionId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// InitPayload carries backend session-initialization info.
type InitPayload struct {
	NativeSessionID string `json:"nativeSessionId"`
	Model           string `json:"model,omitempty"`
	CWD             string `json:"cwd,omitempty"`
	PermissionMode  string `json:"permissionMode,omitempty"`
}

// CompletePayload marks the end of a session or turn. ExitCode is set for
// process-exit completion, StopReason for protocol-level completion.
type CompletePayload struct {
	ExitCode   *int   `json:"exitCode,omitempty"`
	StopReason string `json:"stopReason,omitempty"`
}

// ErrorPayload carries a non-fatal or terminal error description.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ModeChangePayload is the internal metadata-refresh signal.
type ModeChangePayload struct {
	PermissionMode string `json:"permissionMode,omitempty"`
	Model          string `json:"model,omitempty"`
}

// --- Constructors ---
//
// Adapters leave Timestamp zero; the manager stamps events as they enter the
// pipeline so that one clock orders the whole timeline.

// NewMessage creates a message event.
func NewMessage(sessionID, role, content string) Event {
	return Event{
		Type:      TypeMessage,
		SessionID: sessionID,
		Message:   &MessagePayload{Role: role, Content: content, IsUser: role == "user"},
	}
}

// NewThinking creates a thinking event.
func NewThinking(sessionID, content string) Event {
	return Event{
		Type:      TypeThinking,
		SessionID: sessionID,
		Thinking:  &ThinkingPayload{Content: content},
	}
}

// NewToolCall creates a tool-call event.
func NewToolCall(sessionID string, p ToolCallPayload) Event {
	return Event{Type: TypeToolCall, SessionID: sessionID, ToolCall: &p}
}

// NewToolUpdate creates a tool-update event.
func NewToolUpdate(sessionID string, p ToolUpdatePayload) Event {
	return Event{Type: TypeToolUpdate, SessionID: sessionID, ToolUpdate: &p}
}

// NewPlan creates a plan event.
func NewPlan(sessionID string, entries []PlanEntry) Event {
	return Event{Type: TypePlan, SessionID: sessionID, Plan: &PlanPayload{Entries: entries}}
}

// NewApprovalRequest creates an approval-request event.
func NewApprovalRequest(sessionID string, p ApprovalRequestPayload) Event {
	return Event{Type: TypeApprovalRequest, SessionID: sessionID, ApprovalRequest: &p}
}

// NewApprovalResponse creates an approval-response event.
func NewApprovalResponse(sessionID string, p ApprovalResponsePayload) Event {
	return Event{Type: TypeApprovalResponse, SessionID: sessionID, ApprovalResponse: &p}
}

// NewInit creates an init event.
func NewInit(sessionID string, p InitPayload) Event {
	return Event{Type: TypeInit, SessionID: sessionID, Init: &p}
}

// NewComplete creates a complete event with a process exit code.
func NewComplete(sessionID string, exitCode int) Event {
	return Event{Type: TypeComplete, SessionID: sessionID, Complete: &CompletePayload{ExitCode: &exitCode}}
}

// NewCompleteReason creates a complete event with a protocol stop reason.
func NewCompleteReason(sessionID, stopReason string) Event {
	return Event{Type: TypeComplete, SessionID: sessionID, Complete: &CompletePayload{StopReason: stopReason}}
}

// NewError creates an error event.
func NewError(sessionID, message string) Event {
	return Event{Type: TypeError, SessionID: sessionID, Error: &ErrorPayload{Message: message}}
}

// NewRaw creates a raw event from an unparseable or unrecognized frame.
func NewRaw(sessionID string, line []byte) Event {
	raw := make(json.RawMessage, 0, len(line))
	if json.Valid(line) {
		raw = append(raw, line...)
	} else {
		// Preserve non-JSON lines as a JSON string so the log stays valid.
		quoted, _ := json.Marshal(string(line))
		raw = append(raw, quoted...)
	}
	return Event{Type: TypeRaw, SessionID: sessionID, Raw: raw}
}

// NewModeChange creates the internal metadata-refresh signal.
func NewModeChange(sessionID string, p ModeChangePayload) Event {
	return Event{Type: TypeModeChange, SessionID: sessionID, ModeChange: &p}
}
