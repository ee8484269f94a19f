package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

const (
	sessionFile = "session.json"
	eventsFile  = "events.jsonl"
)

// FileStore persists each session under <dir>/<session-id>/ as a metadata
// JSON file plus an append-only JSONL event log. Metadata writes go through
// a temp file and rename so a crash never leaves a torn session.json.
type FileStore struct {
	dir string

	mu sync.Mutex
	// lastOffset tracks the byte offset of the last appended event record
	// per session, enabling ReplaceLastEvent via truncate-and-append. Only
	// valid for sessions written during this process lifetime; sessions
	// loaded cold start with no replaceable tail.
	lastOffset map[string]int64
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		dir:        dir,
		lastOffset: make(map[string]int64),
	}, nil
}

func (s *FileStore) sessionDir(id string) string {
	return filepath.Join(s.dir, id)
}

// An empty session id would resolve to the store root itself and scribble
// files there.
func checkSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	return nil
}

// SaveSession writes the session metadata, creating the record if needed.
func (s *FileStore) SaveSession(sess *agentmux.Session) error {
	if err := checkSessionID(sess.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSessionLocked(sess)
}

func (s *FileStore) writeSessionLocked(sess *agentmux.Session) error {
	dir := s.sessionDir(sess.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp := filepath.Join(dir, sessionFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, sessionFile)); err != nil {
		return fmt.Errorf("failed to rename session file: %w", err)
	}
	return nil
}

// LoadSession returns the session metadata and its full event log.
func (s *FileStore) LoadSession(id string) (*agentmux.Session, []event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.readSessionLocked(id)
	if err != nil {
		return nil, nil, err
	}

	events, err := s.readEventsLocked(id)
	if err != nil {
		return nil, nil, err
	}
	return sess, events, nil
}

func (s *FileStore) readSessionLocked(id string) (*agentmux.Session, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(id), sessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var sess agentmux.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &sess, nil
}

func (s *FileStore) readEventsLocked(id string) ([]event.Event, error) {
	f, err := os.Open(filepath.Join(s.sessionDir(id), eventsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse event record: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// AppendEvent appends one event to the session's log.
func (s *FileStore) AppendEvent(sessionID string, ev event.Event) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEventLocked(sessionID, ev)
}

func (s *FileStore) appendEventLocked(sessionID string, ev event.Event) error {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek event log: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	s.lastOffset[sessionID] = offset
	return nil
}

// ReplaceLastEvent overwrites the most recently appended event record.
func (s *FileStore) ReplaceLastEvent(sessionID string, ev event.Event) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, ok := s.lastOffset[sessionID]
	if !ok {
		return s.appendEventLocked(sessionID, ev)
	}

	path := filepath.Join(s.sessionDir(sessionID), eventsFile)
	if err := os.Truncate(path, offset); err != nil {
		return fmt.Errorf("failed to truncate event log: %w", err)
	}
	return s.appendEventLocked(sessionID, ev)
}

// UpdateStatus updates only the session's status and UpdatedAt.
func (s *FileStore) UpdateStatus(sessionID string, status agentmux.SessionStatus) error {
	return s.updateSession(sessionID, func(sess *agentmux.Session) {
		sess.Status = status
	})
}

// UpdateName updates only the session's display name and UpdatedAt.
func (s *FileStore) UpdateName(sessionID string, name string) error {
	return s.updateSession(sessionID, func(sess *agentmux.Session) {
		sess.Name = name
	})
}

func (s *FileStore) updateSession(sessionID string, mutate func(*agentmux.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.readSessionLocked(sessionID)
	if err != nil {
		return err
	}
	mutate(sess)
	sess.UpdatedAt = time.Now()
	return s.writeSessionLocked(sess)
}

// LoadAll returns metadata for every stored session.
func (s *FileStore) LoadAll() ([]*agentmux.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var sessions []*agentmux.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, err := s.readSessionLocked(entry.Name())
		if err != nil {
			// Skip directories without a readable session.json rather than
			// failing the whole listing.
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
