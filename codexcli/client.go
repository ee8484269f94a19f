package codexcli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

// DefaultRequestTimeout bounds how long a JSON-RPC call may stay pending.
const DefaultRequestTimeout = 30 * time.Second

// rpcResult holds the outcome of a JSON-RPC request.
type rpcResult struct {
	Response *Response
	Err      error
}

// pendingApproval is a server-initiated approval awaiting a decision. The
// continuation is the original request id; answering writes a response line
// carrying it.
type pendingApproval struct {
	rpcID    int64
	approval *agentmux.Approval
	resolved bool
}

// client owns one agent process and the single thread it hosts.
type client struct {
	sessionID string
	transport transport
	idGen     *idGenerator
	timeout   time.Duration
	emit      func(event.Event)

	mu        sync.Mutex
	pending   map[int64]chan *rpcResult
	approvals map[string]*pendingApproval
	threadID  string
	stopping  bool

	readDone chan struct{}
}

func newClient(sessionID string, t transport, timeout time.Duration, emit func(event.Event)) *client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &client{
		sessionID: sessionID,
		transport: t,
		idGen:     &idGenerator{},
		timeout:   timeout,
		emit:      emit,
		pending:   make(map[int64]chan *rpcResult),
		approvals: make(map[string]*pendingApproval),
		readDone:  make(chan struct{}),
	}
}

// run consumes wire lines until the transport dies, then emits the terminal
// event unless a stop was requested.
func (c *client) run() {
	defer close(c.readDone)
	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			break
		}
		if len(line) == 0 {
			continue
		}
		c.handleMessage(line)
	}

	c.mu.Lock()
	stopping := c.stopping
	c.failPendingLocked(fmt.Errorf("agent process exited"))
	c.mu.Unlock()

	if !stopping {
		c.emit(event.NewError(c.sessionID, "agent process exited unexpectedly"))
		c.emit(event.NewCompleteReason(c.sessionID, "process-exit"))
	}
}

func (c *client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		select {
		case ch <- &rpcResult{Err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

// handleMessage demultiplexes one wire line by shape: id+method is a server
// request, id alone a response, method alone a notification.
func (c *client) handleMessage(line []byte) {
	var base struct {
		ID     *int64 `json:"id,omitempty"`
		Method string `json:"method,omitempty"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		slog.Warn("preserving unparseable rpc line as raw event", "error", err)
		c.emit(event.NewRaw(c.sessionID, line))
		return
	}

	switch {
	case base.Method != "" && base.ID != nil:
		c.handleServerRequest(line, base.Method, *base.ID)
	case base.ID != nil:
		c.handleResponse(line, *base.ID)
	case base.Method != "":
		c.handleNotification(line, base.Method)
	default:
		c.emit(event.NewRaw(c.sessionID, line))
	}
}

func (c *client) handleResponse(line []byte, id int64) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.emit(event.NewRaw(c.sessionID, line))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Warn("dropping response with unknown correlation id", "id", id, "session", c.sessionID)
		return
	}

	result := &rpcResult{Response: &resp}
	if resp.Error != nil {
		result.Err = &agentmux.RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	select {
	case ch <- result:
	default:
	}
}

func (c *client) handleNotification(line []byte, method string) {
	var notif Notification
	if err := json.Unmarshal(line, &notif); err != nil {
		c.emit(event.NewRaw(c.sessionID, line))
		return
	}

	switch method {
	case NotifyThreadStarted:
		var p ThreadStartedParams
		if err := json.Unmarshal(notif.Params, &p); err != nil {
			return
		}
		c.mu.Lock()
		c.threadID = p.ThreadID
		c.mu.Unlock()
		c.emit(event.NewInit(c.sessionID, event.InitPayload{
			NativeSessionID: p.ThreadID,
			Model:           p.Model,
		}))

	case NotifyTurnStarted:
		// Timeline content arrives via item notifications.

	case NotifyTurnCompleted:
		var p TurnCompletedParams
		if err := json.Unmarshal(notif.Params, &p); err != nil {
			return
		}
		reason := p.StopReason
		if reason == "" {
			reason = "turn-completed"
		}
		c.emit(event.NewCompleteReason(c.sessionID, reason))

	case NotifyAgentMessageDelta:
		var p DeltaParams
		if err := json.Unmarshal(notif.Params, &p); err != nil {
			return
		}
		c.emit(event.NewMessage(c.sessionID, "assistant", p.Delta))

	case NotifyReasoningDelta:
		var p DeltaParams
		if err := json.Unmarshal(notif.Params, &p); err != nil {
			return
		}
		c.emit(event.NewThinking(c.sessionID, p.Delta))

	case NotifyItemStarted, NotifyItemCompleted:
		var p ItemParams
		if err := json.Unmarshal(notif.Params, &p); err != nil {
			return
		}
		c.handleItem(method, p.Item)

	case NotifyError:
		var p ErrorParams
		if err := json.Unmarshal(notif.Params, &p); err != nil {
			return
		}
		c.emit(event.NewError(c.sessionID, p.Message))

	default:
		slog.Warn("skipping unknown notification method", "method", method, "session", c.sessionID)
		c.emit(event.NewRaw(c.sessionID, line))
	}
}

// handleItem maps item lifecycle notifications onto tool-call, plan, and
// message events. Streamed message/reasoning text already arrived via the
// delta notifications, so completed text items are skipped.
func (c *client) handleItem(method string, item Item) {
	switch item.Type {
	case "agentMessage", "reasoning":
		// Delivered incrementally by deltas.

	case "commandExecution", "fileChange":
		if method == NotifyItemStarted {
			input := item.Input
			if input == nil && item.Command != "" {
				input = map[string]interface{}{"command": item.Command}
			}
			c.emit(event.NewToolCall(c.sessionID, event.ToolCallPayload{
				ToolCallID: item.ID,
				Title:      itemTitle(item),
				Kind:       item.Type,
				Status:     "running",
				Input:      input,
			}))
			return
		}
		status := item.Status
		if status == "" {
			status = "completed"
		}
		isErr := item.ExitCode != nil && *item.ExitCode != 0
		if isErr {
			status = "failed"
		}
		c.emit(event.NewToolUpdate(c.sessionID, event.ToolUpdatePayload{
			ToolCallID: item.ID,
			Status:     status,
			Content:    item.Text,
			IsError:    isErr,
		}))

	case "plan":
		entries := make([]event.PlanEntry, 0, len(item.PlanItems))
		for _, pi := range item.PlanItems {
			entries = append(entries, event.PlanEntry{Content: pi.Step, Status: pi.Status})
		}
		c.emit(event.NewPlan(c.sessionID, entries))

	default:
		slog.Warn("skipping unknown item type", "type", item.Type, "session", c.sessionID)
	}
}

func itemTitle(item Item) string {
	if item.Command != "" {
		return item.Command
	}
	return item.Type
}

// handleServerRequest turns an agent-initiated approval request into a
// pending Approval and an approval-request event. The response is deferred
// until an operator resolves it.
func (c *client) handleServerRequest(line []byte, method string, id int64) {
	switch method {
	case MethodExecCommandApproval, MethodApplyPatchApproval:
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		var p ExecApprovalParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			c.writeError(id, -32602, "invalid approval params")
			return
		}
		c.registerApproval(id, method, p)

	default:
		slog.Warn("rejecting unknown server request", "method", method, "session", c.sessionID)
		c.writeError(id, -32601, "unknown method: "+method)
	}
}

func (c *client) registerApproval(rpcID int64, method string, p ExecApprovalParams) {
	title := p.Command
	if title == "" {
		title = p.Path
	}
	kind := "execute"
	if method == MethodApplyPatchApproval {
		kind = "edit"
	}

	approval := &agentmux.Approval{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		Status:    agentmux.ApprovalPending,
		CreatedAt: time.Now(),
		ToolCall:  event.ToolCallRef{ID: p.CallID, Title: title, Kind: kind},
		Options: []event.PermissionOption{
			{ID: DecisionApproved, Name: "Allow once", Kind: "allow_once"},
			{ID: DecisionApprovedForSession, Name: "Allow for this session", Kind: "allow_always"},
			{ID: DecisionDenied, Name: "Deny", Kind: "reject_once"},
			{ID: DecisionAbort, Name: "Deny and abort the turn", Kind: "reject_always"},
		},
	}

	c.mu.Lock()
	c.approvals[approval.ID] = &pendingApproval{rpcID: rpcID, approval: approval}
	c.mu.Unlock()

	c.emit(event.NewApprovalRequest(c.sessionID, approval.RequestPayload()))
}

// resolveApproval answers the agent with the original request id. Resolving
// an already-resolved approval is a logged no-op.
func (c *client) resolveApproval(approvalID, decision string) error {
	c.mu.Lock()
	pa, ok := c.approvals[approvalID]
	if !ok {
		c.mu.Unlock()
		return agentmux.ErrUnknownApproval
	}
	if pa.resolved {
		c.mu.Unlock()
		slog.Warn("ignoring repeated approval resolution", "approval", approvalID)
		return nil
	}
	pa.resolved = true
	if decision == DecisionApproved || decision == DecisionApprovedForSession {
		pa.approval.Status = agentmux.ApprovalApproved
	} else {
		pa.approval.Status = agentmux.ApprovalRejected
	}
	rpcID := pa.rpcID
	c.mu.Unlock()

	resp, err := newResponse(rpcID, ApprovalResult{Decision: decision})
	if err != nil {
		return err
	}
	if err := c.transport.WriteJSON(resp); err != nil {
		slog.Warn("approval resolution after agent teardown", "approval", approvalID, "error", err)
		return nil
	}

	action := "approved"
	if decision == DecisionDenied || decision == DecisionAbort {
		action = "rejected"
	}
	c.emit(event.NewApprovalResponse(c.sessionID, event.ApprovalResponsePayload{
		ApprovalID: approvalID,
		Action:     action,
		OptionID:   decision,
	}))
	return nil
}

func (c *client) hasApproval(approvalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.approvals[approvalID]
	return ok
}

func (c *client) writeError(id int64, code int, message string) {
	_ = c.transport.WriteJSON(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
}

// call sends a request and waits for its response, bounded by the client
// timeout. On timeout the pending entry is removed so late responses are
// dropped instead of leaking.
func (c *client) call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := c.idGen.Next()
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *rpcResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	clearPending := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.transport.WriteJSON(req); err != nil {
		clearPending()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Response, nil
	case <-timer.C:
		clearPending()
		return nil, fmt.Errorf("%s request timed out after %s", method, c.timeout)
	case <-ctx.Done():
		clearPending()
		return nil, ctx.Err()
	}
}

// startThread opens the conversation thread and records its id. The id may
// also arrive first via the thread.started notification.
func (c *client) startThread(ctx context.Context, params ThreadStartParams) error {
	resp, err := c.call(ctx, MethodThreadStart, params)
	if err != nil {
		return err
	}
	var result ThreadStartResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return &agentmux.ProtocolError{Message: "failed to parse thread.start response", Cause: err}
	}
	if result.ThreadID != "" {
		c.mu.Lock()
		c.threadID = result.ThreadID
		c.mu.Unlock()
	}
	return nil
}

// send forwards user text into the thread.
func (c *client) send(ctx context.Context, text string) error {
	c.mu.Lock()
	threadID := c.threadID
	c.mu.Unlock()
	if threadID == "" {
		return fmt.Errorf("thread id not yet known for session %s", c.sessionID)
	}

	_, err := c.call(ctx, MethodThreadSend, ThreadSendParams{ThreadID: threadID, Message: text})
	return err
}

// stop tears the client down and abandons pending work.
func (c *client) stop() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.mu.Unlock()

	_ = c.transport.Close()

	select {
	case <-c.readDone:
	case <-time.After(2 * time.Second):
	}
}
