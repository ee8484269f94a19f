package codexcli

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

// Config holds adapter-level settings.
type Config struct {
	// BinaryPath is the agent binary. Defaults to "codex".
	BinaryPath string

	// Args are the subcommand arguments that put the binary into app-server
	// mode. Defaults to ["app-server"].
	Args []string

	// Model overrides the backend default when a spawn names none.
	Model string

	// Env are extra KEY=VALUE pairs for spawned processes.
	Env []string

	// StderrHandler receives stderr lines from spawned processes.
	StderrHandler func(line string)

	// RequestTimeout bounds pending JSON-RPC calls.
	RequestTimeout time.Duration

	// EventBufferSize is the capacity of the adapter's event channel.
	EventBufferSize int
}

// Option configures the adapter.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		BinaryPath:      "codex",
		Args:            []string{"app-server"},
		RequestTimeout:  DefaultRequestTimeout,
		EventBufferSize: 100,
	}
}

// WithBinaryPath sets the agent binary path.
func WithBinaryPath(path string) Option {
	return func(c *Config) { c.BinaryPath = path }
}

// WithArgs replaces the app-server subcommand arguments.
func WithArgs(args ...string) Option {
	return func(c *Config) { c.Args = args }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithEnv adds KEY=VALUE pairs to the process environment.
func WithEnv(env ...string) Option {
	return func(c *Config) { c.Env = append(c.Env, env...) }
}

// WithStderrHandler sets a callback for stderr lines.
func WithStderrHandler(fn func(line string)) Option {
	return func(c *Config) { c.StderrHandler = fn }
}

// WithRequestTimeout bounds pending JSON-RPC calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.RequestTimeout = d
		}
	}
}

// WithEventBufferSize sets the event channel capacity.
func WithEventBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EventBufferSize = n
		}
	}
}

// Adapter runs one app-server process per session. Implements
// agentmux.Adapter.
type Adapter struct {
	config Config
	events chan event.Event

	mu       sync.Mutex
	clients  map[string]*client
	disposed bool
}

// New creates the adapter.
func New(opts ...Option) *Adapter {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Adapter{
		config:  config,
		events:  make(chan event.Event, config.EventBufferSize),
		clients: make(map[string]*client),
	}
}

// Type returns the backend family.
func (a *Adapter) Type() agentmux.AgentType {
	return agentmux.AgentCodex
}

// emit blocks until the consumer takes the event. The manager's pump is the
// sole reader, so a full buffer means backpressure, not loss.
func (a *Adapter) emit(ev event.Event) {
	a.events <- ev
}

// Spawn starts an agent process, opens its thread, and sends the initial
// prompt. Spawn failure leaves nothing behind.
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

	t, err := startProcessTransport(ctx, processSpec{
		BinaryPath:    a.config.BinaryPath,
		Args:          a.config.Args,
		CWD:           opts.CWD,
		Env:           append(append([]string{}, a.config.Env...), opts.Env...),
		StderrHandler: a.config.StderrHandler,
	})
	if err != nil {
		return nil, err
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c := newClient(sessionID, t, a.config.RequestTimeout, a.emit)
	go c.run()

	model := opts.Model
	if model == "" {
		model = a.config.Model
	}
	if err := c.startThread(ctx, ThreadStartParams{
		CWD:            opts.CWD,
		Model:          model,
		ApprovalPolicy: ApprovalPolicyForMode(opts.PermissionMode),
	}); err != nil {
		c.stop()
		return nil, err
	}

	if opts.Prompt != "" {
		if err := c.send(ctx, opts.Prompt); err != nil {
			c.stop()
			return nil, err
		}
	}

	now := time.Now()
	sess := &agentmux.Session{
		ID:        sessionID,
		AgentType: agentmux.AgentCodex,
		Status:    agentmux.StatusRunning,
		CWD:       opts.CWD,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}

	a.mu.Lock()
	a.clients[sessionID] = c
	a.mu.Unlock()

	return sess.Clone(), nil
}

// Kill terminates the session's process.
func (a *Adapter) Kill(sessionID string) error {
	a.mu.Lock()
	c, ok := a.clients[sessionID]
	a.mu.Unlock()

	if !ok {
		slog.Warn("kill requested for unknown or finished session", "session", sessionID)
		return nil
	}

	c.stop()
	a.emit(event.NewCompleteReason(sessionID, "killed"))
	return nil
}

// SendMessage forwards user text into the session's thread.
func (a *Adapter) SendMessage(ctx context.Context, sessionID string, text string) error {
	a.mu.Lock()
	c, ok := a.clients[sessionID]
	a.mu.Unlock()

	if !ok {
		return agentmux.ErrUnknownSession
	}
	if !c.transport.Alive() {
		return agentmux.ErrNoActiveProcess
	}
	return c.send(ctx, text)
}

// Approve resolves a pending approval. An empty optionID approves once.
func (a *Adapter) Approve(approvalID, optionID string) error {
	c := a.clientForApproval(approvalID)
	if c == nil {
		return agentmux.ErrUnknownApproval
	}
	decision := optionID
	if decision == "" {
		decision = DecisionApproved
	}
	if decision != DecisionApproved && decision != DecisionApprovedForSession {
		return fmt.Errorf("option %q is not an approval option", optionID)
	}
	return c.resolveApproval(approvalID, decision)
}

// Reject resolves a pending approval negatively.
func (a *Adapter) Reject(approvalID, reason string) error {
	c := a.clientForApproval(approvalID)
	if c == nil {
		return agentmux.ErrUnknownApproval
	}
	_ = reason // The wire protocol carries only the decision.
	return c.resolveApproval(approvalID, DecisionDenied)
}

func (a *Adapter) clientForApproval(approvalID string) *client {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.clients {
		if c.hasApproval(approvalID) {
			return c
		}
	}
	return nil
}

// Alive reports whether the session's process is running.
func (a *Adapter) Alive(sessionID string) bool {
	a.mu.Lock()
	c, ok := a.clients[sessionID]
	a.mu.Unlock()
	return ok && c.transport.Alive()
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
	clients := make([]*client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	return nil
}
