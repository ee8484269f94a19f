package acp

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

// wire abstracts the process transport so tests can drive a client over
// in-memory pipes.
type wire interface {
	ReadLine() ([]byte, error)
	WriteJSON(v interface{}) error
	Alive() bool
	Stop() error
}

// rpcResult holds the outcome of a JSON-RPC request.
type rpcResult struct {
	Response *Response
	Err      error
}

// pendingPermission is an agent-initiated permission request parked until an
// operator resolves it. rpcID is the continuation: the answer is a response
// line carrying it.
type pendingPermission struct {
	rpcID     int64
	sessionID string
	options   []PermissionOption
	resolved  bool
}

// clientSession tracks one session hosted by the client.
type clientSession struct {
	muxID    string // orchestrator session id
	nativeID string // agent-assigned session id
	cwd      string
	state    *sessionStateManager
}

// Client manages one ACP agent process hosting multiple sessions.
type Client struct {
	id     string
	config ClientConfig
	state  *clientStateManager
	proc   wire
	idGen  *idGenerator
	emit   func(event.Event)

	mu        sync.Mutex
	pending   map[int64]chan *rpcResult
	sessions  map[string]*clientSession // keyed by native session id
	byMuxID   map[string]*clientSession
	approvals map[string]*pendingPermission
	agentCaps agentmux.Capabilities
	stopping  bool

	readDone chan struct{}
}

// NewClient creates a client. Events flow through emit; the client stamps
// its ClientID on everything it produces.
func NewClient(emit func(event.Event), opts ...ClientOption) *Client {
	config := defaultClientConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Client{
		id:        uuid.NewString(),
		config:    config,
		state:     newClientStateManager(),
		idGen:     &idGenerator{},
		emit:      emit,
		pending:   make(map[int64]chan *rpcResult),
		sessions:  make(map[string]*clientSession),
		byMuxID:   make(map[string]*clientSession),
		approvals: make(map[string]*pendingPermission),
		readDone:  make(chan struct{}),
	}
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// State returns the current client state.
func (c *Client) State() ClientState { return c.state.Current() }

// Capabilities returns the agent's advertised capabilities, valid once the
// client is ready.
func (c *Client) Capabilities() agentmux.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentCaps
}

// Alive reports whether the agent process is running.
func (c *Client) Alive() bool {
	return c.proc != nil && c.proc.Alive()
}

// Start spawns the agent process and completes the initialize handshake.
// The client is unusable unless Start returns nil.
func (c *Client) Start(ctx context.Context) error {
	if err := c.state.SetStarting(); err != nil {
		return agentmux.ErrAlreadyStarted
	}

	pm := newProcessManager(c.config)
	if err := pm.Start(ctx); err != nil {
		c.state.SetError()
		return err
	}
	c.proc = pm

	go c.readLoop()

	if err := c.initialize(ctx); err != nil {
		c.state.SetError()
		_ = pm.Stop()
		return err
	}
	return nil
}

// startOnWire is the test seam: run the handshake over a supplied transport.
func (c *Client) startOnWire(ctx context.Context, w wire) error {
	if err := c.state.SetStarting(); err != nil {
		return agentmux.ErrAlreadyStarted
	}
	c.proc = w
	go c.readLoop()
	if err := c.initialize(ctx); err != nil {
		c.state.SetError()
		return err
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		ClientInfo: &Implementation{
			Name:    c.config.ClientName,
			Version: c.config.ClientVersion,
		},
		ClientCapabilities: &ClientCapabilities{
			Fs: &FsCapability{ReadTextFile: true, WriteTextFile: true},
		},
	}

	resp, err := c.call(ctx, MethodInitialize, params, c.config.RequestTimeout)
	if err != nil {
		return err
	}

	var initResp InitializeResponse
	if err := json.Unmarshal(resp.Result, &initResp); err != nil {
		return &agentmux.ProtocolError{Message: "failed to parse initialize response", Cause: err}
	}

	c.mu.Lock()
	if caps := initResp.AgentCapabilities; caps != nil {
		c.agentCaps = agentmux.Capabilities{
			LoadSession: caps.LoadSession,
			ImageInput:  caps.ImageInput,
			AudioInput:  caps.AudioInput,
		}
	}
	c.mu.Unlock()

	return c.state.SetReady()
}

// NewSession creates a session on the agent and binds it to muxID.
func (c *Client) NewSession(ctx context.Context, muxID, cwd string) error {
	if !c.state.IsReady() {
		return agentmux.ErrNotStarted
	}

	resp, err := c.call(ctx, MethodSessionNew, NewSessionRequest{
		CWD:        cwd,
		McpServers: []McpServerConfig{},
	}, c.config.RequestTimeout)
	if err != nil {
		return err
	}

	var sessResp NewSessionResponse
	if err := json.Unmarshal(resp.Result, &sessResp); err != nil {
		return &agentmux.ProtocolError{Message: "failed to parse session/new response", Cause: err}
	}

	cs := &clientSession{
		muxID:    muxID,
		nativeID: sessResp.SessionID,
		cwd:      cwd,
		state:    newSessionStateManager(),
	}
	c.mu.Lock()
	c.sessions[sessResp.SessionID] = cs
	c.byMuxID[muxID] = cs
	c.mu.Unlock()

	c.emitFor(cs, event.NewInit(muxID, event.InitPayload{
		NativeSessionID: sessResp.SessionID,
		CWD:             cwd,
	}))
	return nil
}

// LoadSession reattaches to a previously created agent session. Hard
// capability gate: agents that did not advertise loadSession get a
// CapabilityError, never a blind retry.
func (c *Client) LoadSession(ctx context.Context, muxID, nativeID, cwd string) error {
	if !c.state.IsReady() {
		return agentmux.ErrNotStarted
	}
	if !c.Capabilities().LoadSession {
		return &agentmux.CapabilityError{
			Capability: "loadSession",
			Message:    "agent cannot reattach to prior sessions",
		}
	}

	_, err := c.call(ctx, MethodSessionLoad, LoadSessionRequest{
		SessionID:  nativeID,
		CWD:        cwd,
		McpServers: []McpServerConfig{},
	}, c.config.RequestTimeout)
	if err != nil {
		return err
	}

	cs := &clientSession{
		muxID:    muxID,
		nativeID: nativeID,
		cwd:      cwd,
		state:    newSessionStateManager(),
	}
	c.mu.Lock()
	c.sessions[nativeID] = cs
	c.byMuxID[muxID] = cs
	c.mu.Unlock()

	c.emitFor(cs, event.NewInit(muxID, event.InitPayload{
		NativeSessionID: nativeID,
		CWD:             cwd,
	}))
	return nil
}

// Prompt forwards user text and blocks until the turn completes. One turn
// per session at a time.
func (c *Client) Prompt(ctx context.Context, muxID, text string) error {
	cs := c.sessionByMuxID(muxID)
	if cs == nil {
		return agentmux.ErrUnknownSession
	}
	if err := cs.state.SetRunning(); err != nil {
		return fmt.Errorf("session %s already has a turn in flight", muxID)
	}
	defer func() { _ = cs.state.SetIdle() }()

	c.emitFor(cs, event.NewMessage(muxID, "user", text))

	// Turns are unbounded; only the caller's context limits them.
	resp, err := c.call(ctx, MethodSessionPrompt, PromptRequest{
		SessionID: cs.nativeID,
		Prompt:    []ContentBlock{NewTextContent(text)},
	}, 0)
	if err != nil {
		return err
	}

	var promptResp PromptResponse
	if err := json.Unmarshal(resp.Result, &promptResp); err != nil {
		return &agentmux.ProtocolError{Message: "failed to parse session/prompt response", Cause: err}
	}

	c.emitFor(cs, event.NewCompleteReason(muxID, promptResp.StopReason))
	return nil
}

// Cancel aborts the session's in-flight turn.
func (c *Client) Cancel(muxID string) error {
	cs := c.sessionByMuxID(muxID)
	if cs == nil {
		return agentmux.ErrUnknownSession
	}
	notif, err := newNotification(MethodSessionCancel, CancelNotification{SessionID: cs.nativeID})
	if err != nil {
		return err
	}
	return c.proc.WriteJSON(notif)
}

// CloseSession detaches a session and drops its pending approvals.
func (c *Client) CloseSession(muxID string) {
	c.mu.Lock()
	cs, ok := c.byMuxID[muxID]
	if ok {
		cs.state.SetClosed()
		delete(c.byMuxID, muxID)
		delete(c.sessions, cs.nativeID)
		for id, pp := range c.approvals {
			if pp.sessionID == muxID && !pp.resolved {
				pp.resolved = true
				c.writeError(pp.rpcID, ErrCodeInternalError, "session closed")
				delete(c.approvals, id)
			}
		}
	}
	c.mu.Unlock()
}

// SessionCount returns the number of live sessions.
func (c *Client) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byMuxID)
}

// HasSession reports whether muxID is hosted here.
func (c *Client) HasSession(muxID string) bool {
	return c.sessionByMuxID(muxID) != nil
}

// HasApproval reports whether the approval is pending here.
func (c *Client) HasApproval(approvalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.approvals[approvalID]
	return ok
}

// soleSession returns the client's only session, or nil when the client
// hosts zero or several. Used to attribute lines that name no session.
func (c *Client) soleSession() *clientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.byMuxID) != 1 {
		return nil
	}
	for _, cs := range c.byMuxID {
		return cs
	}
	return nil
}

func (c *Client) sessionByMuxID(muxID string) *clientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byMuxID[muxID]
}

// Stop tears the client and all its sessions down. Safe to call twice.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	for _, cs := range c.byMuxID {
		cs.state.SetClosed()
	}
	c.failPendingLocked(fmt.Errorf("client stopped"))
	c.mu.Unlock()

	c.state.SetStopped()
	if c.proc != nil {
		_ = c.proc.Stop()
	}

	select {
	case <-c.readDone:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		select {
		case ch <- &rpcResult{Err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

// emitFor stamps the client id and forwards the event.
func (c *Client) emitFor(cs *clientSession, ev event.Event) {
	ev.ClientID = c.id
	c.emit(ev)
}

// --- read loop and demux ---

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		line, err := c.proc.ReadLine()
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
	sessions := make([]*clientSession, 0, len(c.byMuxID))
	for _, cs := range c.byMuxID {
		sessions = append(sessions, cs)
	}
	c.mu.Unlock()

	if !stopping {
		c.state.SetError()
		for _, cs := range sessions {
			c.emitFor(cs, event.NewError(cs.muxID, "agent process exited unexpectedly"))
			c.emitFor(cs, event.NewCompleteReason(cs.muxID, "process-exit"))
		}
	}
}

// handleMessage demultiplexes one wire line by shape: id+method is an agent
// request, id alone a response, method alone a notification.
func (c *Client) handleMessage(line []byte) {
	var base struct {
		ID     *int64 `json:"id,omitempty"`
		Method string `json:"method,omitempty"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		slog.Warn("preserving unparseable acp line as raw event", "error", err, "client", c.id)
		if cs := c.soleSession(); cs != nil {
			c.emitFor(cs, event.NewRaw(cs.muxID, line))
		} else {
			ev := event.NewRaw("", line)
			ev.ClientID = c.id
			c.emit(ev)
		}
		return
	}

	switch {
	case base.Method != "" && base.ID != nil:
		c.handleAgentRequest(line, base.Method, *base.ID)
	case base.ID != nil:
		c.handleResponse(line, *base.ID)
	case base.Method != "":
		c.handleNotification(line, base.Method)
	}
}

func (c *Client) handleResponse(line []byte, id int64) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Warn("dropping response with unknown correlation id", "id", id, "client", c.id)
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

func (c *Client) handleNotification(line []byte, method string) {
	if method != MethodSessionUpdate {
		slog.Warn("skipping unknown notification method", "method", method, "client", c.id)
		return
	}

	var notif Notification
	if err := json.Unmarshal(line, &notif); err != nil {
		return
	}
	var sn SessionNotification
	if err := json.Unmarshal(notif.Params, &sn); err != nil {
		return
	}

	c.mu.Lock()
	cs, ok := c.sessions[sn.SessionID]
	c.mu.Unlock()
	if !ok {
		slog.Warn("dropping update for unknown session", "nativeSession", sn.SessionID, "client", c.id)
		return
	}

	c.handleSessionUpdate(cs, &sn.Update)
}

// handleSessionUpdate maps one session/update onto canonical events.
func (c *Client) handleSessionUpdate(cs *clientSession, u *SessionUpdate) {
	muxID := cs.muxID

	switch u.Type {
	case UpdateAgentMessage:
		if u.Content != nil && u.Content.Type == "text" {
			c.emitFor(cs, event.NewMessage(muxID, "assistant", u.Content.Text))
		}

	case UpdateAgentThought:
		if u.Content != nil && u.Content.Type == "text" {
			c.emitFor(cs, event.NewThinking(muxID, u.Content.Text))
		}

	case UpdateUserMessage:
		if u.Content != nil && u.Content.Type == "text" {
			c.emitFor(cs, event.NewMessage(muxID, "user", u.Content.Text))
		}

	case UpdateToolCall:
		status := u.Status
		if status == "" {
			status = "running"
		}
		c.emitFor(cs, event.NewToolCall(muxID, event.ToolCallPayload{
			ToolCallID: u.ToolCallID,
			Title:      u.Title,
			Kind:       u.Kind,
			Status:     status,
			Input:      u.Input,
		}))

	case UpdateToolUpdate:
		c.emitFor(cs, event.NewToolUpdate(muxID, event.ToolUpdatePayload{
			ToolCallID: u.ToolCallID,
			Status:     u.Status,
			IsError:    u.Status == "errored" || u.Status == "failed",
		}))

	case UpdatePlan:
		if u.Plan == nil {
			return
		}
		entries := make([]event.PlanEntry, 0, len(u.Plan.Entries))
		for _, e := range u.Plan.Entries {
			entries = append(entries, event.PlanEntry{Content: e.Title, Status: e.Status})
		}
		c.emitFor(cs, event.NewPlan(muxID, entries))

	default:
		slog.Warn("skipping unknown session update type", "type", u.Type, "session", muxID)
	}
}

// handleAgentRequest serves agent-initiated requests. Permission requests
// are deferred; fs requests are answered synchronously; everything else,
// terminal methods included, is method-not-found.
func (c *Client) handleAgentRequest(line []byte, method string, id int64) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		c.writeError(id, ErrCodeParseError, "malformed request")
		return
	}

	switch method {
	case MethodRequestPermission:
		c.handleRequestPermission(id, req.Params)
	case MethodFsReadTextFile:
		c.handleFsRead(id, req.Params)
	case MethodFsWriteTextFile:
		c.handleFsWrite(id, req.Params)
	default:
		c.writeError(id, ErrCodeMethodNotFound, "unknown method: "+method)
	}
}

// handleRequestPermission parks the request as a pending approval. The
// response is written later, by Approve or Reject, with this request's id.
func (c *Client) handleRequestPermission(id int64, params json.RawMessage) {
	var req RequestPermissionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		c.writeError(id, ErrCodeInvalidParams, err.Error())
		return
	}

	c.mu.Lock()
	cs, ok := c.sessions[req.SessionID]
	c.mu.Unlock()
	if !ok {
		c.writeError(id, ErrCodeInvalidParams, "unknown session: "+req.SessionID)
		return
	}

	options := make([]event.PermissionOption, 0, len(req.Options))
	for _, o := range req.Options {
		options = append(options, event.PermissionOption{ID: o.ID, Name: o.Name, Kind: o.Kind})
	}

	approval := &agentmux.Approval{
		ID:        uuid.NewString(),
		SessionID: cs.muxID,
		ClientID:  c.id,
		Status:    agentmux.ApprovalPending,
		CreatedAt: time.Now(),
		ToolCall: event.ToolCallRef{
			ID:    req.ToolCall.ToolCallID,
			Title: req.ToolCall.Title,
			Kind:  req.ToolCall.Kind,
		},
		Options: options,
	}

	c.mu.Lock()
	c.approvals[approval.ID] = &pendingPermission{
		rpcID:     id,
		sessionID: cs.muxID,
		options:   req.Options,
	}
	c.mu.Unlock()

	c.emitFor(cs, event.NewApprovalRequest(cs.muxID, approval.RequestPayload()))
}

// Approve resolves a pending permission positively. An empty optionID picks
// the first allow option the agent offered.
func (c *Client) Approve(approvalID, optionID string) error {
	return c.resolvePermission(approvalID, optionID, true, "")
}

// Reject resolves a pending permission negatively, picking the first reject
// option, or a cancelled outcome when the agent offered none.
func (c *Client) Reject(approvalID, reason string) error {
	return c.resolvePermission(approvalID, "", false, reason)
}

func (c *Client) resolvePermission(approvalID, optionID string, allow bool, reason string) error {
	c.mu.Lock()
	pp, ok := c.approvals[approvalID]
	if !ok {
		c.mu.Unlock()
		return agentmux.ErrUnknownApproval
	}
	if pp.resolved {
		c.mu.Unlock()
		slog.Warn("ignoring repeated approval resolution", "approval", approvalID)
		return nil
	}

	outcome := PermissionOutcome{Type: "cancelled"}
	if optionID == "" {
		optionID = pickOption(pp.options, allow)
	}
	if optionID != "" {
		outcome = PermissionOutcome{Type: "selected", OptionID: optionID}
	}
	pp.resolved = true
	rpcID := pp.rpcID
	sessionID := pp.sessionID
	c.mu.Unlock()

	resp, err := newResponse(rpcID, RequestPermissionResponse{Outcome: outcome})
	if err != nil {
		return err
	}
	if err := c.proc.WriteJSON(resp); err != nil {
		slog.Warn("approval resolution after agent teardown", "approval", approvalID, "error", err)
		return nil
	}

	action := "approved"
	if !allow {
		action = "rejected"
	}
	cs := c.sessionByMuxID(sessionID)
	ev := event.NewApprovalResponse(sessionID, event.ApprovalResponsePayload{
		ApprovalID: approvalID,
		Action:     action,
		OptionID:   outcome.OptionID,
		Reason:     reason,
	})
	if cs != nil {
		c.emitFor(cs, ev)
	} else {
		ev.ClientID = c.id
		c.emit(ev)
	}
	return nil
}

// pickOption selects the agent's first option matching the decision.
func pickOption(options []PermissionOption, allow bool) string {
	prefix := "allow"
	if !allow {
		prefix = "reject"
	}
	for _, o := range options {
		if len(o.Kind) >= len(prefix) && o.Kind[:len(prefix)] == prefix {
			return o.ID
		}
	}
	return ""
}

func (c *Client) writeError(id int64, code int, message string) {
	_ = c.proc.WriteJSON(newErrorResponse(id, code, message))
}

// call sends a request and waits for its response. timeout <= 0 means no
// bound beyond ctx.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (*Response, error) {
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

	if err := c.proc.WriteJSON(req); err != nil {
		clearPending()
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Response, nil
	case <-timeoutCh:
		clearPending()
		return nil, fmt.Errorf("%s request timed out after %s", method, timeout)
	case <-ctx.Done():
		clearPending()
		return nil, ctx.Err()
	}
}
