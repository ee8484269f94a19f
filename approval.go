package agentmux

import (
	"time"

	"github.com/agentmux/agentmux/event"
)

// ApprovalStatus is the lifecycle state of a permission request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Resolved reports whether the approval has been decided.
func (s ApprovalStatus) Resolved() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Approval is a pending permission request blocking an agent's tool call.
// Each approval is resolved at most once; resolving it again, or after its
// session is gone, is a logged no-op inside the owning adapter.
type Approval struct {
	ID        string                   `json:"id"`
	SessionID string                   `json:"sessionId"`
	ClientID  string                   `json:"clientId,omitempty"`
	Status    ApprovalStatus           `json:"status"`
	CreatedAt time.Time                `json:"createdAt"`
	ToolCall  event.ToolCallRef        `json:"toolCall"`
	Options   []event.PermissionOption `json:"options"`
}

// RequestPayload converts the approval into its event representation.
func (a *Approval) RequestPayload() event.ApprovalRequestPayload {
	return event.ApprovalRequestPayload{
		ApprovalID: a.ID,
		ClientID:   a.ClientID,
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt,
		ToolCall:   a.ToolCall,
		Options:    a.Options,
	}
}
