package acp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

// AdapterConfig holds adapter-level settings applied to every client.
type AdapterConfig struct {
	ClientOptions   []ClientOption
	EventBufferSize int
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithClientOptions sets the options applied to every spawned client.
func WithClientOptions(opts ...ClientOption) AdapterOption {
	return func(c *AdapterConfig) { c.ClientOptions = append(c.ClientOptions, opts...) }
}

// WithEventBufferSize sets the event channel capacity.
func WithEventBufferSize(n int) AdapterOption {
	return func(c *AdapterConfig) {
		if n > 0 {
			c.EventBufferSize = n
		}
	}
}

// Adapter hosts ACP clients, each a long-lived agent process carrying one or
// more sessions. Implements agentmux.Adapter.
type Adapter struct {
	config AdapterConfig
	events chan event.Event

	mu       sync.Mutex
	clients  map[string]*Client // keyed by client id
	bySessID map[string]*Client // mux session id -> hosting client
	disposed bool
}

// New creates the adapter.
func New(opts ...AdapterOption) *Adapter {
	config := AdapterConfig{EventBufferSize: 100}
	for _, opt := range opts {
		opt(&config)
	}
	return &Adapter{
		config:   config,
		events:   make(chan event.Event, config.EventBufferSize),
		clients:  make(map[string]*Client),
		bySessID: make(map[string]*Client),
	}
}

// Type returns the backend family.
func (a *Adapter) Type() agentmux.AgentType {
	return agentmux.AgentGemini
}

// emit blocks until the consumer takes the event. The manager's pump is the
// sole reader, so a full buffer means backpressure, not loss.
func (a *Adapter) emit(ev event.Event) {
	a.events <- ev
}

// Spawn creates a session. With a ClientID the session lands on that
// existing client; otherwise a fresh agent process is started for it.
func (a *Adapter) Spawn(ctx context.Context, opts agentmux.SpawnOptions) (*agentmux.Session, error) {
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

	client, fresh, err := a.clientFor(ctx, opts)
	if err != nil {
		return nil, err
	}

	muxID := opts.SessionID
	if muxID == "" {
		muxID = uuid.NewString()
	}
	if err := client.NewSession(ctx, muxID, opts.CWD); err != nil {
		if fresh {
			_ = client.Stop()
			a.removeClient(client)
		}
		return nil, err
	}

	a.mu.Lock()
	a.bySessID[muxID] = client
	a.mu.Unlock()

	if opts.Prompt != "" {
		go a.runTurn(client, muxID, opts.Prompt)
	}

	now := time.Now()
	sess := &agentmux.Session{
		ID:        muxID,
		AgentType: agentmux.AgentGemini,
		Status:    agentmux.StatusRunning,
		CWD:       opts.CWD,
		ClientID:  client.ID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return sess.Clone(), nil
}

// Resume reattaches to a previously created agent session on an existing
// client. Fails with a CapabilityError when the agent cannot load sessions.
func (a *Adapter) Resume(ctx context.Context, clientID, nativeSessionID, cwd string) (*agentmux.Session, error) {
	a.mu.Lock()
	client, ok := a.clients[clientID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown client: %s", clientID)
	}

	muxID := uuid.NewString()
	if err := client.LoadSession(ctx, muxID, nativeSessionID, cwd); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.bySessID[muxID] = client
	a.mu.Unlock()

	now := time.Now()
	sess := &agentmux.Session{
		ID:              muxID,
		AgentType:       agentmux.AgentGemini,
		Status:          agentmux.StatusRunning,
		CWD:             cwd,
		ClientID:        client.ID(),
		NativeSessionID: nativeSessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return sess.Clone(), nil
}

// clientFor returns the client a new session should land on, starting a
// fresh process when none was pinned.
func (a *Adapter) clientFor(ctx context.Context, opts agentmux.SpawnOptions) (*Client, bool, error) {
	if opts.ClientID != "" {
		a.mu.Lock()
		client, ok := a.clients[opts.ClientID]
		a.mu.Unlock()
		if !ok {
			return nil, false, fmt.Errorf("unknown client: %s", opts.ClientID)
		}
		if client.State() != ClientStateReady {
			return nil, false, fmt.Errorf("client %s is %s, not ready", opts.ClientID, client.State())
		}
		return client, false, nil
	}

	clientOpts := append([]ClientOption{}, a.config.ClientOptions...)
	if opts.CWD != "" {
		clientOpts = append(clientOpts, WithCWD(opts.CWD))
	}
	if len(opts.Env) > 0 {
		clientOpts = append(clientOpts, WithEnv(opts.Env...))
	}

	client := NewClient(a.emit, clientOpts...)
	if err := client.Start(ctx); err != nil {
		return nil, false, err
	}

	a.mu.Lock()
	a.clients[client.ID()] = client
	a.mu.Unlock()
	return client, true, nil
}

// runTurn drives one prompt turn; failures surface as error events.
func (a *Adapter) runTurn(client *Client, muxID, text string) {
	if err := client.Prompt(context.Background(), muxID, text); err != nil {
		a.emit(event.NewError(muxID, err.Error()))
	}
}

// Kill closes the session, cancelling any in-flight turn. The hosting
// process is stopped once its last session is gone.
func (a *Adapter) Kill(sessionID string) error {
	a.mu.Lock()
	client, ok := a.bySessID[sessionID]
	if ok {
		delete(a.bySessID, sessionID)
	}
	a.mu.Unlock()

	if !ok {
		slog.Warn("kill requested for unknown or finished session", "session", sessionID)
		return nil
	}

	_ = client.Cancel(sessionID)
	client.CloseSession(sessionID)
	a.emit(event.NewCompleteReason(sessionID, "killed"))

	if client.SessionCount() == 0 {
		_ = client.Stop()
		a.removeClient(client)
	}
	return nil
}

// SendMessage starts a new turn with the text. The turn streams back as
// events; only submission errors are returned here.
func (a *Adapter) SendMessage(ctx context.Context, sessionID string, text string) error {
	a.mu.Lock()
	client, ok := a.bySessID[sessionID]
	a.mu.Unlock()

	if !ok {
		return agentmux.ErrUnknownSession
	}
	if !client.Alive() {
		return agentmux.ErrNoActiveProcess
	}

	cs := client.sessionByMuxID(sessionID)
	if cs == nil {
		return agentmux.ErrUnknownSession
	}
	if cs.state.Current() == SessionStateRunning {
		return fmt.Errorf("session %s already has a turn in flight", sessionID)
	}

	go a.runTurn(client, sessionID, text)
	return nil
}

// Approve resolves a pending permission request.
func (a *Adapter) Approve(approvalID, optionID string) error {
	client := a.clientForApproval(approvalID)
	if client == nil {
		return agentmux.ErrUnknownApproval
	}
	return client.Approve(approvalID, optionID)
}

// Reject resolves a pending permission request negatively.
func (a *Adapter) Reject(approvalID, reason string) error {
	client := a.clientForApproval(approvalID)
	if client == nil {
		return agentmux.ErrUnknownApproval
	}
	return client.Reject(approvalID, reason)
}

func (a *Adapter) clientForApproval(approvalID string) *Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, client := range a.clients {
		if client.HasApproval(approvalID) {
			return client
		}
	}
	return nil
}

// Alive reports whether the session's hosting process is running.
func (a *Adapter) Alive(sessionID string) bool {
	a.mu.Lock()
	client, ok := a.bySessID[sessionID]
	a.mu.Unlock()
	return ok && client.Alive() && client.HasSession(sessionID)
}

// Events returns the adapter's merged event stream.
func (a *Adapter) Events() <-chan event.Event {
	return a.events
}

// Clients returns the live clients, for inspection and cleanup.
func (a *Adapter) Clients() []*Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	clients := make([]*Client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	return clients
}

func (a *Adapter) removeClient(client *Client) {
	a.mu.Lock()
	delete(a.clients, client.ID())
	a.mu.Unlock()
}

// Dispose stops every client. Safe to call twice.
func (a *Adapter) Dispose() error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil
	}
	a.disposed = true
	clients := make([]*Client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.clients = make(map[string]*Client)
	a.bySessID = make(map[string]*Client)
	a.mu.Unlock()

	for _, c := range clients {
		_ = c.Stop()
	}
	return nil
}
