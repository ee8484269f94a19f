// Package manager routes session operations to protocol adapters and owns
// the canonical event pipeline: every adapter event is timestamped, merged
// with its streaming predecessor where possible, persisted, and fanned out
// to subscribers, in that order, per session.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
	"github.com/agentmux/agentmux/store"
)

// approvalEntry tracks a pending approval and the adapter that can resolve
// it. prevStatus is restored when the approval resolves.
type approvalEntry struct {
	adapter    agentmux.Adapter
	sessionID  string
	prevStatus agentmux.SessionStatus
	resolved   bool
}

// Config holds manager settings.
type Config struct {
	// SubscriberBufferSize is the default buffer for Subscribe.
	SubscriberBufferSize int
}

// Option configures the manager.
type Option func(*Config)

// WithSubscriberBufferSize sets the default subscriber channel capacity.
func WithSubscriberBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SubscriberBufferSize = n
		}
	}
}

// Manager is the single point of truth mapping session id to owning
// adapter, and the sole writer of canonical events into the store.
type Manager struct {
	config      Config
	store       store.Store
	broadcaster *Broadcaster

	mu        sync.Mutex
	adapters  map[agentmux.AgentType]agentmux.Adapter
	sessions  map[string]*agentmux.Session
	approvals map[string]*approvalEntry
	tails     map[string]*event.Event // last persisted event per session, merge candidate
	disposed  bool

	pumps sync.WaitGroup
	stop  chan struct{}
}

// New creates a manager backed by the given store. Adapters are attached
// with Register before the first Spawn.
func New(st store.Store, opts ...Option) *Manager {
	config := Config{SubscriberBufferSize: 100}
	for _, opt := range opts {
		opt(&config)
	}
	return &Manager{
		config:      config,
		store:       st,
		broadcaster: NewBroadcaster(),
		adapters:    make(map[agentmux.AgentType]agentmux.Adapter),
		sessions:    make(map[string]*agentmux.Session),
		approvals:   make(map[string]*approvalEntry),
		tails:       make(map[string]*event.Event),
		stop:        make(chan struct{}),
	}
}

// Register attaches an adapter and starts pumping its event stream through
// the pipeline. One adapter per agent type.
func (m *Manager) Register(adapter agentmux.Adapter) {
	m.mu.Lock()
	m.adapters[adapter.Type()] = adapter
	m.mu.Unlock()

	m.pumps.Add(1)
	go m.pump(adapter)
}

func (m *Manager) pump(adapter agentmux.Adapter) {
	defer m.pumps.Done()
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-adapter.Events():
			if !ok {
				return
			}
			m.processEvent(adapter, ev)
		}
	}
}

// Spawn creates a session on the adapter registered for the requested type.
func (m *Manager) Spawn(ctx context.Context, opts agentmux.SpawnOptions) (*agentmux.Session, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, agentmux.ErrDisposed
	}
	adapter, ok := m.adapters[opts.Type]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", agentmux.ErrNoAdapter, opts.Type)
	}

	// Register the session before the adapter may emit for it: adapters
	// start their read loops inside Spawn, and an init or a fast exit must
	// find the session already routable.
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	now := time.Now()
	m.mu.Lock()
	m.sessions[opts.SessionID] = &agentmux.Session{
		ID:        opts.SessionID,
		AgentType: opts.Type,
		Status:    agentmux.StatusStarting,
		CWD:       opts.CWD,
		Model:     opts.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Unlock()

	sess, err := adapter.Spawn(ctx, opts)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, opts.SessionID)
		delete(m.tails, opts.SessionID)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	if sess.ID != opts.SessionID {
		// Adapter chose its own id; move the registration over.
		delete(m.sessions, opts.SessionID)
	}
	cur, ok := m.sessions[sess.ID]
	if !ok {
		cur = sess.Clone()
		cur.Status = agentmux.StatusStarting
		m.sessions[sess.ID] = cur
	}
	cur.CWD = sess.CWD
	cur.ClientID = sess.ClientID
	cur.CreatedAt = sess.CreatedAt
	if cur.NativeSessionID == "" {
		cur.NativeSessionID = sess.NativeSessionID
	}
	if cur.Model == "" {
		cur.Model = sess.Model
	}
	// Events processed during Spawn may already have advanced the status;
	// the adapter's answer only settles a still-starting session.
	if cur.Status == agentmux.StatusStarting {
		cur.Status = sess.Status
	}
	cur.UpdatedAt = time.Now()
	snapshot := cur.Clone()
	m.mu.Unlock()

	if err := m.store.SaveSession(snapshot); err != nil {
		slog.Error("failed to persist new session", "session", snapshot.ID, "error", err)
	}
	return snapshot, nil
}

// Kill terminates the session's process. Authoritative at the state level:
// status flips immediately, without waiting for the process to exit.
func (m *Manager) Kill(sessionID string) error {
	adapter, sess, err := m.route(sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return nil
	}

	if err := adapter.Kill(sessionID); err != nil {
		return err
	}
	m.updateStatus(sessionID, agentmux.StatusKilled)
	m.dropApprovalsFor(sessionID)
	return nil
}

// SendMessage forwards user text to the session's agent.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string) error {
	adapter, sess, err := m.route(sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return fmt.Errorf("session %s is %s and no longer accepts messages", sessionID, sess.Status)
	}
	return adapter.SendMessage(ctx, sessionID, text)
}

// Approve resolves a pending approval positively. An empty optionID lets
// the adapter pick its default allow option. Resolving the same approval
// twice is a logged no-op.
func (m *Manager) Approve(approvalID, optionID string) error {
	m.mu.Lock()
	entry, ok := m.approvals[approvalID]
	resolved := ok && entry.resolved
	m.mu.Unlock()
	if !ok {
		return agentmux.ErrUnknownApproval
	}
	if resolved {
		slog.Warn("ignoring repeated approval resolution", "approval", approvalID)
		return nil
	}
	return entry.adapter.Approve(approvalID, optionID)
}

// Reject resolves a pending approval negatively.
func (m *Manager) Reject(approvalID, reason string) error {
	m.mu.Lock()
	entry, ok := m.approvals[approvalID]
	resolved := ok && entry.resolved
	m.mu.Unlock()
	if !ok {
		return agentmux.ErrUnknownApproval
	}
	if resolved {
		slog.Warn("ignoring repeated approval resolution", "approval", approvalID)
		return nil
	}
	return entry.adapter.Reject(approvalID, reason)
}

// Session returns the session's current metadata. Live state wins; the
// store serves sessions from earlier runs.
func (m *Manager) Session(sessionID string) (*agentmux.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return sess.Clone(), nil
	}

	stored, _, err := m.store.LoadSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, agentmux.ErrUnknownSession
		}
		return nil, err
	}
	return stored, nil
}

// Sessions returns every known session, live entries first by recency.
func (m *Manager) Sessions() []*agentmux.Session {
	m.mu.Lock()
	seen := make(map[string]bool, len(m.sessions))
	out := make([]*agentmux.Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		seen[id] = true
		out = append(out, sess.Clone())
	}
	m.mu.Unlock()

	stored, err := m.store.LoadAll()
	if err != nil {
		slog.Warn("store unavailable, listing live sessions only", "error", err)
		return out
	}
	for _, sess := range stored {
		if !seen[sess.ID] {
			out = append(out, sess)
		}
	}
	return out
}

// History returns the session's persisted event timeline.
func (m *Manager) History(sessionID string) ([]event.Event, error) {
	_, events, err := m.store.LoadSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, agentmux.ErrUnknownSession
		}
		return nil, err
	}
	return events, nil
}

// SetName updates the session's display name.
func (m *Manager) SetName(sessionID, name string) error {
	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.Name = name
		sess.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
	return m.store.UpdateName(sessionID, name)
}

// Subscribe attaches a consumer to the fan-out stream.
func (m *Manager) Subscribe() (int, <-chan event.Event) {
	return m.broadcaster.Subscribe(m.config.SubscriberBufferSize)
}

// Unsubscribe detaches a consumer.
func (m *Manager) Unsubscribe(id int) {
	m.broadcaster.Unsubscribe(id)
}

// route resolves the adapter owning a live session.
func (m *Manager) route(sessionID string) (agentmux.Adapter, *agentmux.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, agentmux.ErrUnknownSession
	}
	adapter, ok := m.adapters[sess.AgentType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", agentmux.ErrNoAdapter, sess.AgentType)
	}
	return adapter, sess.Clone(), nil
}

// --- event pipeline ---

// processEvent runs one adapter event through the pipeline: timestamp,
// react to lifecycle signals, merge, persist, fan out. Events for one
// session pass through here strictly in emission order.
func (m *Manager) processEvent(adapter agentmux.Adapter, ev event.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// Internal signals refresh metadata and never reach the timeline.
	if ev.Internal() {
		m.applyModeChange(ev)
		return
	}

	// Unattributed events have no timeline to land on; surface them to
	// subscribers but keep them out of the store.
	if ev.SessionID == "" {
		slog.Warn("event without session attribution, not persisting", "type", ev.Type, "client", ev.ClientID)
		m.broadcaster.Broadcast(ev)
		return
	}

	m.applyLifecycle(adapter, ev)

	m.mu.Lock()
	tail := m.tails[ev.SessionID]
	if tail != nil && event.CanMerge(*tail, ev) {
		merged := event.Merge(*tail, ev)
		m.tails[ev.SessionID] = &merged
		m.mu.Unlock()

		if err := m.store.ReplaceLastEvent(ev.SessionID, merged); err != nil {
			slog.Error("failed to persist merged event", "session", ev.SessionID, "error", err)
		}
		m.broadcaster.Broadcast(merged)
		return
	}
	evCopy := ev
	m.tails[ev.SessionID] = &evCopy
	m.mu.Unlock()

	if err := m.store.AppendEvent(ev.SessionID, ev); err != nil {
		slog.Error("failed to persist event", "session", ev.SessionID, "type", ev.Type, "error", err)
	}
	m.broadcaster.Broadcast(ev)
}

func (m *Manager) applyModeChange(ev event.Event) {
	if ev.ModeChange == nil {
		return
	}
	m.mu.Lock()
	var snapshot *agentmux.Session
	if sess, ok := m.sessions[ev.SessionID]; ok {
		if ev.ModeChange.Model != "" {
			sess.Model = ev.ModeChange.Model
		}
		sess.UpdatedAt = ev.Timestamp
		snapshot = sess.Clone()
	}
	m.mu.Unlock()
	if snapshot != nil {
		if err := m.store.SaveSession(snapshot); err != nil {
			slog.Error("failed to persist metadata refresh", "session", ev.SessionID, "error", err)
		}
	}
}

// applyLifecycle updates session and approval state for events that carry
// lifecycle meaning. Runs before persistence so status and timeline agree.
func (m *Manager) applyLifecycle(adapter agentmux.Adapter, ev event.Event) {
	switch ev.Type {
	case event.TypeInit:
		if ev.Init == nil {
			return
		}
		m.mu.Lock()
		var snapshot *agentmux.Session
		if sess, ok := m.sessions[ev.SessionID]; ok {
			sess.NativeSessionID = ev.Init.NativeSessionID
			if ev.Init.Model != "" {
				sess.Model = ev.Init.Model
			}
			sess.UpdatedAt = ev.Timestamp
			snapshot = sess.Clone()
		}
		m.mu.Unlock()
		if snapshot != nil {
			if err := m.store.SaveSession(snapshot); err != nil {
				slog.Error("failed to persist session init", "session", ev.SessionID, "error", err)
			}
		}

	case event.TypeApprovalRequest:
		if ev.ApprovalRequest == nil {
			return
		}
		m.mu.Lock()
		prev := agentmux.StatusRunning
		if sess, ok := m.sessions[ev.SessionID]; ok {
			prev = sess.Status
		}
		m.approvals[ev.ApprovalRequest.ApprovalID] = &approvalEntry{
			adapter:    adapter,
			sessionID:  ev.SessionID,
			prevStatus: prev,
		}
		m.mu.Unlock()
		m.updateStatus(ev.SessionID, agentmux.StatusWaitingApproval)

	case event.TypeApprovalResponse:
		if ev.ApprovalResponse == nil {
			return
		}
		m.mu.Lock()
		entry, ok := m.approvals[ev.ApprovalResponse.ApprovalID]
		if ok && entry.resolved {
			ok = false
		}
		if ok {
			entry.resolved = true
		}
		m.mu.Unlock()
		if ok {
			restored := entry.prevStatus
			if restored.IsTerminal() || restored == agentmux.StatusWaitingApproval {
				restored = agentmux.StatusRunning
			}
			m.updateStatus(entry.sessionID, restored)
		}

	case event.TypeComplete:
		// Only process death ends a session: an exit code, a kill, or an
		// unexpected process exit. Anything else is a turn boundary; the
		// process is alive and the session keeps accepting messages.
		c := ev.Complete
		terminal := true
		status := agentmux.StatusCompleted
		switch {
		case c == nil:
			terminal = false
		case c.StopReason == "killed":
			status = agentmux.StatusKilled
		case c.StopReason == "process-exit":
			status = agentmux.StatusError
		case c.ExitCode != nil:
			if *c.ExitCode != 0 {
				status = agentmux.StatusError
			}
		default:
			terminal = false
		}
		if !terminal {
			m.settleTurn(ev.SessionID)
			return
		}
		m.updateStatus(ev.SessionID, status)
		m.dropApprovalsFor(ev.SessionID)
	}
}

// settleTurn returns a session to running at a turn boundary. Sessions
// parked on an approval stay parked, and pending approvals survive.
func (m *Manager) settleTurn(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	waiting := ok && sess.Status == agentmux.StatusWaitingApproval
	m.mu.Unlock()
	if !ok || waiting {
		return
	}
	m.updateStatus(sessionID, agentmux.StatusRunning)
}

// updateStatus moves the session's status, in memory and in the store.
// Terminal states are permanent for this process incarnation.
func (m *Manager) updateStatus(sessionID string, status agentmux.SessionStatus) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	sess.Status = status
	sess.UpdatedAt = time.Now()
	m.mu.Unlock()

	if err := m.store.UpdateStatus(sessionID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to persist status change", "session", sessionID, "status", status, "error", err)
	}
}

func (m *Manager) dropApprovalsFor(sessionID string) {
	m.mu.Lock()
	for id, entry := range m.approvals {
		if entry.sessionID == sessionID {
			delete(m.approvals, id)
		}
	}
	m.mu.Unlock()
}

// --- maintenance ---

// CleanupSweep marks sessions whose backing process has died as errored and
// discards their approvals. Safe to run concurrently with normal traffic:
// liveness is probed without the lock, then re-checked before mutating.
func (m *Manager) CleanupSweep() int {
	m.mu.Lock()
	type probe struct {
		id      string
		adapter agentmux.Adapter
	}
	candidates := make([]probe, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if sess.Status.IsTerminal() {
			continue
		}
		if adapter, ok := m.adapters[sess.AgentType]; ok {
			candidates = append(candidates, probe{id: id, adapter: adapter})
		}
	}
	m.mu.Unlock()

	swept := 0
	for _, c := range candidates {
		if c.adapter.Alive(c.id) {
			continue
		}
		// Re-check under the lock; the process may have been replaced or
		// the session completed since the probe.
		m.mu.Lock()
		sess, ok := m.sessions[c.id]
		stillDead := ok && !sess.Status.IsTerminal() && !c.adapter.Alive(c.id)
		m.mu.Unlock()
		if !stillDead {
			continue
		}

		slog.Warn("session process died, marking errored", "session", c.id)
		m.updateStatus(c.id, agentmux.StatusError)
		m.dropApprovalsFor(c.id)
		swept++
	}
	return swept
}

// Dispose shuts down every adapter and closes the fan-out. Safe to call
// more than once.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	adapters := make([]agentmux.Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.approvals = make(map[string]*approvalEntry)
	m.mu.Unlock()

	var firstErr error
	for _, a := range adapters {
		if err := a.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	close(m.stop)
	m.pumps.Wait()
	m.broadcaster.Close()
	return firstErr
}
