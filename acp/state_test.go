package acp

import (
	"errors"
	"testing"
)

func TestClientStateTransitions(t *testing.T) {
	m := newClientStateManager()
	if m.Current() != ClientStateUninitialized {
		t.Fatalf("initial state = %v", m.Current())
	}
	if err := m.SetReady(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ready before starting: err = %v", err)
	}
	if err := m.SetStarting(); err != nil {
		t.Fatalf("SetStarting: %v", err)
	}
	if err := m.SetStarting(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double SetStarting: err = %v", err)
	}
	if err := m.SetReady(); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	if !m.IsReady() {
		t.Error("IsReady = false after SetReady")
	}
	m.SetStopped()
	if m.Current() != ClientStateStopped {
		t.Errorf("state = %v, want stopped", m.Current())
	}
	// Stopped is final; errors after stop are not recorded.
	m.SetError()
	if m.Current() != ClientStateStopped {
		t.Errorf("state left stopped: %v", m.Current())
	}
}

func TestSessionStateTransitions(t *testing.T) {
	m := newSessionStateManager()
	if m.Current() != SessionStateIdle {
		t.Fatalf("initial state = %v", m.Current())
	}
	if err := m.SetRunning(); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}
	if err := m.SetRunning(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double SetRunning: err = %v", err)
	}
	if err := m.SetIdle(); err != nil {
		t.Fatalf("SetIdle: %v", err)
	}
	m.SetClosed()
	if !m.IsClosed() {
		t.Error("IsClosed = false after SetClosed")
	}
	if err := m.SetIdle(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetIdle after close: err = %v", err)
	}
	if err := m.SetRunning(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetRunning after close: err = %v", err)
	}
}
