// Package store persists sessions and their event timelines. The contract is
// narrow on purpose: an append-only event log per session plus small metadata
// updates, with a replace-last hook so merged streaming fragments persist as
// one record.
package store

import (
	"errors"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

// ErrNotFound is returned when a session ID has no stored record.
var ErrNotFound = errors.New("session not found in store")

// Store persists sessions and their event logs.
//
// Implementations must be safe for concurrent use. Event order within a
// session is the order of AppendEvent calls.
type Store interface {
	// SaveSession writes the session metadata, creating the record if needed.
	SaveSession(sess *agentmux.Session) error

	// LoadSession returns the session metadata and its full event log.
	LoadSession(id string) (*agentmux.Session, []event.Event, error)

	// AppendEvent appends one event to the session's log.
	AppendEvent(sessionID string, ev event.Event) error

	// ReplaceLastEvent overwrites the most recently appended event for the
	// session. Used when a streaming fragment merges into its predecessor so
	// the persisted log matches the observed timeline. With no prior event it
	// behaves like AppendEvent.
	ReplaceLastEvent(sessionID string, ev event.Event) error

	// UpdateStatus updates only the session's status and UpdatedAt.
	UpdateStatus(sessionID string, status agentmux.SessionStatus) error

	// UpdateName updates only the session's display name and UpdatedAt.
	UpdateName(sessionID string, name string) error

	// LoadAll returns metadata for every stored session.
	LoadAll() ([]*agentmux.Session, error)
}
