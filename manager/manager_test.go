package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
	"github.com/agentmux/agentmux/store"
)

// fakeAdapter is a scriptable in-memory adapter.
type fakeAdapter struct {
	typ    agentmux.AgentType
	events chan event.Event

	// onSpawn, when set, runs inside Spawn with the new session's id, to
	// script backends that emit before Spawn returns.
	onSpawn func(sessionID string)

	mu           sync.Mutex
	nextID       int
	alive        map[string]bool
	sent         map[string][]string
	approvals    map[string]string // approval id -> session id
	killCalls    int
	approveCalls int
	rejectCalls  int
}

func newFakeAdapter(typ agentmux.AgentType) *fakeAdapter {
	return &fakeAdapter{
		typ:       typ,
		events:    make(chan event.Event, 64),
		alive:     make(map[string]bool),
		sent:      make(map[string][]string),
		approvals: make(map[string]string),
	}
}

func (f *fakeAdapter) Type() agentmux.AgentType { return f.typ }

func (f *fakeAdapter) Spawn(ctx context.Context, opts agentmux.SpawnOptions) (*agentmux.Session, error) {
	f.mu.Lock()
	f.nextID++
	id := opts.SessionID
	if id == "" {
		id = fmt.Sprintf("%s-sess-%d", f.typ, f.nextID)
	}
	f.alive[id] = true
	f.mu.Unlock()

	if f.onSpawn != nil {
		f.onSpawn(id)
	}

	now := time.Now()
	return &agentmux.Session{
		ID:        id,
		AgentType: f.typ,
		Status:    agentmux.StatusRunning,
		CWD:       opts.CWD,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (f *fakeAdapter) Kill(sessionID string) error {
	f.mu.Lock()
	f.killCalls++
	f.alive[sessionID] = false
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendMessage(ctx context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[sessionID] {
		return agentmux.ErrNoActiveProcess
	}
	f.sent[sessionID] = append(f.sent[sessionID], text)
	return nil
}

func (f *fakeAdapter) Approve(approvalID, optionID string) error {
	f.mu.Lock()
	f.approveCalls++
	sessionID := f.approvals[approvalID]
	f.mu.Unlock()
	f.events <- event.NewApprovalResponse(sessionID, event.ApprovalResponsePayload{
		ApprovalID: approvalID,
		Action:     "approved",
		OptionID:   optionID,
	})
	return nil
}

func (f *fakeAdapter) Reject(approvalID, reason string) error {
	f.mu.Lock()
	f.rejectCalls++
	sessionID := f.approvals[approvalID]
	f.mu.Unlock()
	f.events <- event.NewApprovalResponse(sessionID, event.ApprovalResponsePayload{
		ApprovalID: approvalID,
		Action:     "rejected",
		Reason:     reason,
	})
	return nil
}

// emitApprovalRequest records the approval's owner and emits the request.
func (f *fakeAdapter) emitApprovalRequest(sessionID string, p event.ApprovalRequestPayload) {
	f.mu.Lock()
	f.approvals[p.ApprovalID] = sessionID
	f.mu.Unlock()
	f.emit(sessionID, event.NewApprovalRequest(sessionID, p))
}

func (f *fakeAdapter) Alive(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[sessionID]
}

func (f *fakeAdapter) setAlive(sessionID string, alive bool) {
	f.mu.Lock()
	f.alive[sessionID] = alive
	f.mu.Unlock()
}

func (f *fakeAdapter) Events() <-chan event.Event { return f.events }

func (f *fakeAdapter) Dispose() error { return nil }

// emit pushes an event stamped with the session id, as adapters do.
func (f *fakeAdapter) emit(sessionID string, ev event.Event) {
	ev.SessionID = sessionID
	f.events <- ev
}

func newTestManager(t *testing.T) (*Manager, *fakeAdapter, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fake := newFakeAdapter(agentmux.AgentClaude)
	m := New(st)
	m.Register(fake)
	t.Cleanup(func() { _ = m.Dispose() })
	return m, fake, st
}

func nextFanout(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fan-out event")
		return event.Event{}
	}
}

func waitStatus(t *testing.T, m *Manager, sessionID string, want agentmux.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, err := m.Session(sessionID)
		return err == nil && sess.Status == want
	}, 5*time.Second, 10*time.Millisecond, "session never reached %s", want)
}

func TestSpawnNoAdapter(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentCodex})
	assert.ErrorIs(t, err, agentmux.ErrNoAdapter)
}

func TestSpawnPersistsAndRoutes(t *testing.T) {
	m, fake, st := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{
		Type:   agentmux.AgentClaude,
		Prompt: "hello",
	})
	require.NoError(t, err)

	stored, _, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusRunning, stored.Status)

	require.NoError(t, m.SendMessage(context.Background(), sess.ID, "more"))
	assert.Equal(t, []string{"more"}, fake.sent[sess.ID])

	err = m.SendMessage(context.Background(), "never-created", "hi")
	assert.ErrorIs(t, err, agentmux.ErrUnknownSession)
	assert.Empty(t, fake.sent["never-created"])
}

func TestEventPipelineOrderAndMerge(t *testing.T) {
	m, fake, st := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()

	fake.emit(sess.ID, event.NewInit(sess.ID, event.InitPayload{NativeSessionID: "native-7", Model: "opus"}))
	fake.emit(sess.ID, event.NewMessage(sess.ID, "assistant", "The answer "))
	fake.emit(sess.ID, event.NewMessage(sess.ID, "assistant", "is 4."))
	fake.emit(sess.ID, event.NewThinking(sess.ID, "done"))
	fake.emit(sess.ID, event.NewComplete(sess.ID, 0))

	assert.Equal(t, event.TypeInit, nextFanout(t, sub).Type)

	first := nextFanout(t, sub)
	require.Equal(t, event.TypeMessage, first.Type)
	assert.Equal(t, "The answer ", first.Message.Content)
	assert.False(t, first.Timestamp.IsZero(), "pipeline must stamp timestamps")

	merged := nextFanout(t, sub)
	require.Equal(t, event.TypeMessage, merged.Type)
	assert.Equal(t, "The answer is 4.", merged.Message.Content)

	assert.Equal(t, event.TypeThinking, nextFanout(t, sub).Type)
	assert.Equal(t, event.TypeComplete, nextFanout(t, sub).Type)

	waitStatus(t, m, sess.ID, agentmux.StatusCompleted)

	// The persisted log holds the merged record, not both fragments.
	_, events, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, event.TypeInit, events[0].Type)
	assert.Equal(t, "The answer is 4.", events[1].Message.Content)
	assert.Equal(t, event.TypeThinking, events[2].Type)
	assert.Equal(t, event.TypeComplete, events[3].Type)

	// Init refreshed metadata.
	stored, _, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "native-7", stored.NativeSessionID)
	assert.Equal(t, "opus", stored.Model)
}

func TestNoMergeAcrossSpeakers(t *testing.T) {
	m, fake, st := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()
	fake.emit(sess.ID, event.NewMessage(sess.ID, "assistant", "hi"))
	fake.emit(sess.ID, event.NewMessage(sess.ID, "user", "hello"))
	nextFanout(t, sub)
	nextFanout(t, sub)

	_, events, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestApprovalRoundTrip(t *testing.T) {
	m, fake, _ := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()
	fake.emitApprovalRequest(sess.ID, event.ApprovalRequestPayload{
		ApprovalID: "appr-1",
		Status:     string(agentmux.ApprovalPending),
		CreatedAt:  time.Now(),
		ToolCall:   event.ToolCallRef{ID: "tc1", Title: "Run tests"},
		Options:    []event.PermissionOption{{ID: "yes", Name: "Allow", Kind: "allow_once"}},
	})

	req := nextFanout(t, sub)
	require.Equal(t, event.TypeApprovalRequest, req.Type)
	assert.NotEmpty(t, req.ApprovalRequest.Options)
	waitStatus(t, m, sess.ID, agentmux.StatusWaitingApproval)

	require.NoError(t, m.Approve("appr-1", "yes"))
	assert.Equal(t, 1, fake.approveCalls)

	resp := nextFanout(t, sub)
	require.Equal(t, event.TypeApprovalResponse, resp.Type)
	assert.Equal(t, "approved", resp.ApprovalResponse.Action)
	waitStatus(t, m, sess.ID, agentmux.StatusRunning)

	// Second resolution is a no-op, not a fault, and does not reach the
	// adapter again.
	require.NoError(t, m.Approve("appr-1", "yes"))
	assert.Equal(t, 1, fake.approveCalls)

	assert.ErrorIs(t, m.Approve("ghost", ""), agentmux.ErrUnknownApproval)
	assert.ErrorIs(t, m.Reject("ghost", "nope"), agentmux.ErrUnknownApproval)
}

func TestTurnCompletionKeepsSessionLive(t *testing.T) {
	m, fake, _ := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()

	// A bare stop reason is a turn boundary: the process is still alive and
	// the session keeps taking messages.
	fake.emit(sess.ID, event.NewCompleteReason(sess.ID, "end_turn"))
	assert.Equal(t, event.TypeComplete, nextFanout(t, sub).Type)
	waitStatus(t, m, sess.ID, agentmux.StatusRunning)

	require.NoError(t, m.SendMessage(context.Background(), sess.ID, "second turn"))
	assert.Equal(t, []string{"second turn"}, fake.sent[sess.ID])

	fake.emit(sess.ID, event.NewCompleteReason(sess.ID, "turn-completed"))
	nextFanout(t, sub)
	waitStatus(t, m, sess.ID, agentmux.StatusRunning)
	require.NoError(t, m.SendMessage(context.Background(), sess.ID, "third turn"))

	// An exit code ends the session for real.
	fake.emit(sess.ID, event.NewComplete(sess.ID, 0))
	nextFanout(t, sub)
	waitStatus(t, m, sess.ID, agentmux.StatusCompleted)
	assert.Error(t, m.SendMessage(context.Background(), sess.ID, "too late"))
}

func TestTurnCompletionKeepsApprovals(t *testing.T) {
	m, fake, _ := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()
	fake.emitApprovalRequest(sess.ID, event.ApprovalRequestPayload{ApprovalID: "appr-turn"})
	nextFanout(t, sub)
	waitStatus(t, m, sess.ID, agentmux.StatusWaitingApproval)

	// A turn boundary while an approval is parked leaves both alone.
	fake.emit(sess.ID, event.NewCompleteReason(sess.ID, "end_turn"))
	nextFanout(t, sub)

	got, err := m.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusWaitingApproval, got.Status)

	require.NoError(t, m.Approve("appr-turn", ""))
	waitStatus(t, m, sess.ID, agentmux.StatusRunning)
}

func TestSpawnRegistersBeforeAdapterEmits(t *testing.T) {
	m, fake, st := newTestManager(t)

	// The backend announces itself before Spawn returns, as real adapters
	// do once their read loop is up.
	fake.onSpawn = func(id string) {
		fake.emit(id, event.NewInit(id, event.InitPayload{NativeSessionID: "native-42", Model: "opus"}))
	}

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Session(sess.ID)
		return err == nil && got.NativeSessionID == "native-42" && got.Model == "opus"
	}, 5*time.Second, 10*time.Millisecond, "init metadata never landed")

	require.Eventually(t, func() bool {
		stored, _, err := st.LoadSession(sess.ID)
		return err == nil && stored.NativeSessionID == "native-42"
	}, 5*time.Second, 10*time.Millisecond, "init metadata never persisted")
}

func TestSpawnFastExitWinsOverRegistration(t *testing.T) {
	m, fake, _ := newTestManager(t)

	fake.onSpawn = func(id string) {
		fake.emit(id, event.NewComplete(id, 0))
	}

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	waitStatus(t, m, sess.ID, agentmux.StatusCompleted)

	// The post-spawn bookkeeping must not revive the session.
	got, err := m.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusCompleted, got.Status)
	assert.Error(t, m.SendMessage(context.Background(), sess.ID, "hi"))
}

func TestUnattributedEventNotPersisted(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	fake := newFakeAdapter(agentmux.AgentClaude)
	m := New(st)
	m.Register(fake)
	t.Cleanup(func() { _ = m.Dispose() })

	_, sub := m.Subscribe()
	fake.events <- event.NewApprovalResponse("", event.ApprovalResponsePayload{
		ApprovalID: "appr-x",
		Action:     "approved",
	})

	// Subscribers still see it; the store does not.
	got := nextFanout(t, sub)
	assert.Equal(t, event.TypeApprovalResponse, got.Type)

	_, err = os.Stat(filepath.Join(dir, "events.jsonl"))
	assert.True(t, os.IsNotExist(err), "store root must not grow an event log")
}

func TestKillAuthoritative(t *testing.T) {
	m, fake, st := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	require.NoError(t, m.Kill(sess.ID))
	assert.Equal(t, 1, fake.killCalls)

	// Status flips immediately, without waiting for process events.
	got, err := m.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusKilled, got.Status)

	stored, _, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusKilled, stored.Status)

	// Second kill is a no-op on an already-terminal session.
	require.NoError(t, m.Kill(sess.ID))
	assert.Equal(t, 1, fake.killCalls)

	// Terminal sessions stay queryable but not actionable.
	err = m.SendMessage(context.Background(), sess.ID, "hi")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, agentmux.ErrUnknownSession)
}

func TestModeChangeConsumedNotPersisted(t *testing.T) {
	m, fake, st := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()
	fake.emit(sess.ID, event.NewModeChange(sess.ID, event.ModeChangePayload{Model: "sonnet"}))
	fake.emit(sess.ID, event.NewMessage(sess.ID, "assistant", "after"))

	// Only the message reaches subscribers; the signal was consumed.
	ev := nextFanout(t, sub)
	assert.Equal(t, event.TypeMessage, ev.Type)

	stored, events, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "sonnet", stored.Model)
}

func TestCleanupSweep(t *testing.T) {
	m, fake, st := newTestManager(t)

	dead, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)
	live, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	// Pending approval on the doomed session.
	fake.emitApprovalRequest(dead.ID, event.ApprovalRequestPayload{ApprovalID: "appr-dead"})
	waitStatus(t, m, dead.ID, agentmux.StatusWaitingApproval)

	fake.setAlive(dead.ID, false)

	assert.Equal(t, 1, m.CleanupSweep())

	waitStatus(t, m, dead.ID, agentmux.StatusError)
	stored, _, err := st.LoadSession(dead.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusError, stored.Status)

	// Its approval is gone.
	assert.ErrorIs(t, m.Approve("appr-dead", ""), agentmux.ErrUnknownApproval)

	// The live session is untouched and still actionable.
	got, err := m.Session(live.ID)
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusRunning, got.Status)
	require.NoError(t, m.SendMessage(context.Background(), live.ID, "still here"))

	// A second sweep finds nothing.
	assert.Equal(t, 0, m.CleanupSweep())
}

func TestOrderingAcrossConcurrentSessions(t *testing.T) {
	m, fake, st := newTestManager(t)

	a, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)
	b, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	_, sub := m.Subscribe()
	const n = 20
	for i := 0; i < n; i++ {
		fake.emit(a.ID, event.NewToolUpdate(a.ID, event.ToolUpdatePayload{ToolCallID: fmt.Sprintf("a-%d", i)}))
		fake.emit(b.ID, event.NewToolUpdate(b.ID, event.ToolUpdatePayload{ToolCallID: fmt.Sprintf("b-%d", i)}))
	}
	for i := 0; i < 2*n; i++ {
		nextFanout(t, sub)
	}

	for _, sess := range []*agentmux.Session{a, b} {
		_, events, err := st.LoadSession(sess.ID)
		require.NoError(t, err)
		require.Len(t, events, n)
		for i, ev := range events {
			prefix := "a-"
			if sess.ID == b.ID {
				prefix = "b-"
			}
			assert.Equal(t, fmt.Sprintf("%s%d", prefix, i), ev.ToolUpdate.ToolCallID)
		}
	}
}

func TestSessionFallsBackToStore(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	// A session from an earlier run exists only on disk.
	old := &agentmux.Session{ID: "old-1", AgentType: agentmux.AgentClaude, Status: agentmux.StatusCompleted}
	require.NoError(t, st.SaveSession(old))

	m := New(st)
	t.Cleanup(func() { _ = m.Dispose() })

	got, err := m.Session("old-1")
	require.NoError(t, err)
	assert.Equal(t, agentmux.StatusCompleted, got.Status)

	// Listed, but not actionable.
	ids := make([]string, 0)
	for _, s := range m.Sessions() {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "old-1")
	assert.ErrorIs(t, m.Kill("old-1"), agentmux.ErrUnknownSession)

	_, err = m.Session("ghost")
	assert.ErrorIs(t, err, agentmux.ErrUnknownSession)
}

func TestSetNameAndHistory(t *testing.T) {
	m, fake, _ := newTestManager(t)

	sess, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	require.NoError(t, err)

	require.NoError(t, m.SetName(sess.ID, "refactor run"))
	got, err := m.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "refactor run", got.Name)

	_, sub := m.Subscribe()
	fake.emit(sess.ID, event.NewMessage(sess.ID, "assistant", "hi"))
	nextFanout(t, sub)

	events, err := m.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Message.Content)

	_, err = m.History("ghost")
	assert.ErrorIs(t, err, agentmux.ErrUnknownSession)
}

func TestDisposeTwice(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Dispose())
	require.NoError(t, m.Dispose())

	_, err := m.Spawn(context.Background(), agentmux.SpawnOptions{Type: agentmux.AgentClaude})
	assert.ErrorIs(t, err, agentmux.ErrDisposed)
}
