package agentmux

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrUnknownSession is returned when a session ID is not routed to any adapter.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownApproval is returned when an approval ID is not pending anywhere.
	ErrUnknownApproval = errors.New("unknown approval")

	// ErrNoAdapter is returned when no adapter is registered for an agent type.
	ErrNoAdapter = errors.New("no adapter for agent type")

	// ErrNoActiveProcess is returned when an operation requires a live backend
	// process but the session's process has already exited.
	ErrNoActiveProcess = errors.New("no active process for session")

	// ErrAlreadyStarted is returned when Start is called on a started component.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when an operation requires a started component.
	ErrNotStarted = errors.New("not started")

	// ErrDisposed is returned when an operation is attempted on a disposed adapter.
	ErrDisposed = errors.New("adapter disposed")
)

// ProcessError represents an error with an agent subprocess.
type ProcessError struct {
	Cause    error
	Message  string
	Stderr   string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("process error: %s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("process error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents a protocol-level error (e.g., malformed JSON).
// Line carries the offending wire frame when one is available.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// RPCError represents a JSON-RPC error returned by an agent.
type RPCError struct {
	Message string
	Code    int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CapabilityError indicates an operation the connected agent did not
// advertise support for, such as reconnecting to a prior session.
type CapabilityError struct {
	Capability string
	Message    string
}

func (e *CapabilityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("capability %q not supported: %s", e.Capability, e.Message)
	}
	return fmt.Sprintf("capability %q not supported", e.Capability)
}

// CLINotFoundError indicates an agent CLI binary was not found.
type CLINotFoundError struct {
	Cause error
	Path  string
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("CLI binary not found at %q: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error {
	return e.Cause
}
