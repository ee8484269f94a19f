package acp

import (
	"errors"
	"sync"
)

// ErrInvalidState is returned for invalid state transitions.
var ErrInvalidState = errors.New("invalid state transition")

// ClientState is the lifecycle of one agent process.
type ClientState int

const (
	ClientStateUninitialized ClientState = iota
	ClientStateStarting
	ClientStateReady
	ClientStateError
	ClientStateStopped
)

func (s ClientState) String() string {
	switch s {
	case ClientStateUninitialized:
		return "uninitialized"
	case ClientStateStarting:
		return "starting"
	case ClientStateReady:
		return "ready"
	case ClientStateError:
		return "error"
	case ClientStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// clientStateManager serializes client state transitions. Sessions may only
// be created on a ready client.
type clientStateManager struct {
	mu    sync.RWMutex
	state ClientState
}

func newClientStateManager() *clientStateManager {
	return &clientStateManager{state: ClientStateUninitialized}
}

func (m *clientStateManager) Current() ClientState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *clientStateManager) SetStarting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ClientStateUninitialized {
		return ErrInvalidState
	}
	m.state = ClientStateStarting
	return nil
}

func (m *clientStateManager) SetReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ClientStateStarting {
		return ErrInvalidState
	}
	m.state = ClientStateReady
	return nil
}

// SetError marks a failed startup or a dead process. Terminal.
func (m *clientStateManager) SetError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ClientStateStopped {
		m.state = ClientStateError
	}
}

func (m *clientStateManager) SetStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ClientStateStopped
}

func (m *clientStateManager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == ClientStateReady
}

// SessionState is the lifecycle of one session within a client.
type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateRunning
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateRunning:
		return "running"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sessionStateManager serializes session state transitions. One prompt at a
// time: SetRunning fails while a turn is in flight.
type sessionStateManager struct {
	mu    sync.RWMutex
	state SessionState
}

func newSessionStateManager() *sessionStateManager {
	return &sessionStateManager{state: SessionStateIdle}
}

func (m *sessionStateManager) Current() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *sessionStateManager) SetRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != SessionStateIdle {
		return ErrInvalidState
	}
	m.state = SessionStateRunning
	return nil
}

func (m *sessionStateManager) SetIdle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == SessionStateClosed {
		return ErrInvalidState
	}
	m.state = SessionStateIdle
	return nil
}

func (m *sessionStateManager) SetClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = SessionStateClosed
}

func (m *sessionStateManager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == SessionStateClosed
}
