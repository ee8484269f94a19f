package codexcli

import (
	"encoding/json"
	"sync/atomic"

	"github.com/agentmux/agentmux"
)

// Client-sent methods.
const (
	MethodThreadStart     = "thread.start"
	MethodThreadSend      = "thread.sendMessage"
	MethodThreadInterrupt = "thread.interrupt"
)

// Agent-sent notifications.
const (
	NotifyThreadStarted     = "thread.started"
	NotifyTurnStarted       = "turn.started"
	NotifyTurnCompleted     = "turn.completed"
	NotifyItemStarted       = "item.started"
	NotifyItemCompleted     = "item.completed"
	NotifyAgentMessageDelta = "item.agentMessageDelta"
	NotifyReasoningDelta    = "item.reasoningDelta"
	NotifyError             = "error"
)

// Agent-sent requests (answered by us, asynchronously).
const (
	MethodExecCommandApproval = "execCommandApproval"
	MethodApplyPatchApproval  = "applyPatchApproval"
)

// ApprovalPolicy values accepted by the agent at thread start.
const (
	ApprovalPolicyUntrusted = "untrusted"
	ApprovalPolicyOnFailure = "on-failure"
	ApprovalPolicyOnRequest = "on-request"
	ApprovalPolicyNever     = "never"
)

// ApprovalPolicyForMode maps the uniform permission mode onto the agent's
// approval policy vocabulary.
func ApprovalPolicyForMode(mode agentmux.PermissionMode) string {
	switch mode {
	case agentmux.PermissionPlan:
		return ApprovalPolicyUntrusted
	case agentmux.PermissionAcceptEdits:
		return ApprovalPolicyOnFailure
	case agentmux.PermissionBypass:
		return ApprovalPolicyNever
	default:
		return ApprovalPolicyOnRequest
	}
}

// Request is a JSON-RPC request line.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int64           `json:"id"`
}

// Response is a JSON-RPC response line.
type Response struct {
	Error   *Error          `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	ID      int64           `json:"id"`
}

// Notification is a JSON-RPC notification line (no id).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// idGenerator generates unique request IDs.
type idGenerator struct {
	next atomic.Int64
}

func (g *idGenerator) Next() int64 {
	return g.next.Add(1)
}

func newRequest(id int64, method string, params interface{}) (*Request, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: data}, nil
}

func newResponse(id int64, result interface{}) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: data}, nil
}

// ThreadStartParams starts a conversation thread.
type ThreadStartParams struct {
	CWD            string `json:"cwd,omitempty"`
	Model          string `json:"model,omitempty"`
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

// ThreadStartResult carries the agent's thread id.
type ThreadStartResult struct {
	ThreadID string `json:"threadId"`
}

// ThreadSendParams forwards user text into a thread.
type ThreadSendParams struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

// ThreadInterruptParams aborts the in-flight turn.
type ThreadInterruptParams struct {
	ThreadID string `json:"threadId"`
}

// ThreadStartedParams is the thread.started notification payload.
type ThreadStartedParams struct {
	ThreadID string `json:"threadId"`
	Model    string `json:"model,omitempty"`
}

// TurnCompletedParams is the turn.completed notification payload.
type TurnCompletedParams struct {
	ThreadID   string `json:"threadId"`
	StopReason string `json:"stopReason,omitempty"`
}

// DeltaParams carries a streaming text fragment.
type DeltaParams struct {
	ThreadID string `json:"threadId"`
	ItemID   string `json:"itemId,omitempty"`
	Delta    string `json:"delta"`
}

// Item is a unit of agent output in item.started / item.completed.
type Item struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // "agentMessage", "reasoning", "commandExecution", "fileChange", "plan"
	Text      string                 `json:"text,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Status    string                 `json:"status,omitempty"`
	ExitCode  *int                   `json:"exitCode,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	PlanItems []PlanItem             `json:"planItems,omitempty"`
}

// PlanItem is one step of a plan item.
type PlanItem struct {
	Step   string `json:"step"`
	Status string `json:"status,omitempty"`
}

// ItemParams is the item.started / item.completed notification payload.
type ItemParams struct {
	ThreadID string `json:"threadId"`
	Item     Item   `json:"item"`
}

// ErrorParams is the error notification payload.
type ErrorParams struct {
	ThreadID string `json:"threadId,omitempty"`
	Message  string `json:"message"`
}

// ExecApprovalParams is the payload of both approval request methods.
type ExecApprovalParams struct {
	ThreadID string `json:"threadId"`
	CallID   string `json:"callId"`
	Command  string `json:"command,omitempty"`
	CWD      string `json:"cwd,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Path     string `json:"path,omitempty"`
}

// ApprovalDecision values the agent accepts in an approval response.
const (
	DecisionApproved           = "approved"
	DecisionApprovedForSession = "approved_for_session"
	DecisionDenied             = "denied"
	DecisionAbort              = "abort"
)

// ApprovalResult answers an approval request.
type ApprovalResult struct {
	Decision string `json:"decision"`
}
