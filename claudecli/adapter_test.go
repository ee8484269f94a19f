package claudecli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/event"
)

// writeStubCLI writes a shell script that mimics the backend's stream-json
// output for a trivial arithmetic prompt, then exits with the given code.
func writeStubCLI(t *testing.T, exitCode int) string {
	t.Helper()
	script := `#!/bin/sh
echo '{"type":"system","subtype":"init","session_id":"native-42","model":"stub-model","cwd":"/work","permissionMode":"default"}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"simple arithmetic"}]},"session_id":"native-42"}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"The answer is 4."}]},"session_id":"native-42"}'
echo 'this line is not json'
echo '{"type":"result","subtype":"success","is_error":false,"result":"","session_id":"native-42"}'
exit ` + itoa(exitCode) + `
`
	path := filepath.Join(t.TempDir(), "stub-cli")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func collectUntilComplete(t *testing.T, a *Adapter, sessionID string) []event.Event {
	t.Helper()
	var events []event.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.SessionID != sessionID {
				continue
			}
			events = append(events, ev)
			if ev.Type == event.TypeComplete {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for completion; got %d events", len(events))
		}
	}
}

func TestSpawnStreamsCanonicalEvents(t *testing.T) {
	a := New(WithBinaryPath(writeStubCLI(t, 0)))
	defer a.Dispose()

	sess, err := a.Spawn(context.Background(), agentmux.SpawnOptions{Prompt: "what is 2+2?"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	events := collectUntilComplete(t, a, sess.ID)

	var types []event.Type
	for _, ev := range events {
		types = append(types, ev.Type)
	}

	// init, thinking, message, raw, complete — in emission order.
	want := []event.Type{event.TypeInit, event.TypeThinking, event.TypeMessage, event.TypeRaw, event.TypeComplete}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	if events[0].Init.NativeSessionID != "native-42" {
		t.Errorf("native session id = %q", events[0].Init.NativeSessionID)
	}
	if events[2].Message.Content != "The answer is 4." {
		t.Errorf("message content = %q", events[2].Message.Content)
	}
	last := events[len(events)-1]
	if last.Complete.ExitCode == nil || *last.Complete.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", last.Complete.ExitCode)
	}
}

func TestNonZeroExitMapsToError(t *testing.T) {
	a := New(WithBinaryPath(writeStubCLI(t, 3)))
	defer a.Dispose()

	sess, err := a.Spawn(context.Background(), agentmux.SpawnOptions{Prompt: "boom"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	events := collectUntilComplete(t, a, sess.ID)

	sawError := false
	for _, ev := range events {
		if ev.Type == event.TypeError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event for non-zero exit")
	}
	last := events[len(events)-1]
	if last.Complete.ExitCode == nil || *last.Complete.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", last.Complete.ExitCode)
	}
}

func TestSpawnRejectsEmptyPrompt(t *testing.T) {
	a := New(WithBinaryPath("does-not-matter"))
	defer a.Dispose()
	if _, err := a.Spawn(context.Background(), agentmux.SpawnOptions{Prompt: "   "}); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestSpawnRejectsMissingCWD(t *testing.T) {
	a := New(WithBinaryPath("does-not-matter"))
	defer a.Dispose()
	_, err := a.Spawn(context.Background(), agentmux.SpawnOptions{
		Prompt: "hi",
		CWD:    filepath.Join(t.TempDir(), "nope"),
	})
	if err == nil {
		t.Error("expected error for missing working directory")
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	a := New(WithBinaryPath(filepath.Join(t.TempDir(), "no-such-binary")))
	defer a.Dispose()
	if _, err := a.Spawn(context.Background(), agentmux.SpawnOptions{Prompt: "hi"}); err == nil {
		t.Error("expected spawn failure for missing binary")
	}
}

func TestKillIsIdempotent(t *testing.T) {
	// A stub that sleeps so the kill lands while it runs.
	script := "#!/bin/sh\nsleep 30\n"
	path := filepath.Join(t.TempDir(), "sleepy")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}

	a := New(WithBinaryPath(path))
	defer a.Dispose()

	sess, err := a.Spawn(context.Background(), agentmux.SpawnOptions{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if err := a.Kill(sess.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if err := a.Kill(sess.ID); err != nil {
		t.Errorf("second Kill errored: %v", err)
	}
	if err := a.Kill("ghost"); err != nil {
		t.Errorf("Kill of unknown session errored: %v", err)
	}

	// Exactly one terminal event with the killed stop reason.
	killed := 0
	deadline := time.After(5 * time.Second)
waiting:
	for killed == 0 {
		select {
		case ev := <-a.Events():
			if ev.SessionID == sess.ID && ev.Type == event.TypeComplete && ev.Complete.StopReason == "killed" {
				killed++
			}
		case <-deadline:
			break waiting
		}
	}
	// No second terminal event follows.
	settle := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-a.Events():
			if ev.SessionID == sess.ID && ev.Type == event.TypeComplete {
				killed++
			}
		case <-settle:
			if killed != 1 {
				t.Errorf("terminal events = %d, want 1", killed)
			}
			return
		}
	}
}

func TestTinyBufferLosesNothing(t *testing.T) {
	// A one-slot channel with a lagging consumer forces backpressure: the
	// producer must block, never drop.
	a := New(WithBinaryPath(writeStubCLI(t, 0)), WithEventBufferSize(1))
	defer a.Dispose()

	sess, err := a.Spawn(context.Background(), agentmux.SpawnOptions{
		Prompt:    "what is 2+2?",
		SessionID: "fixed-id",
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if sess.ID != "fixed-id" {
		t.Errorf("session id = %q, want the caller's", sess.ID)
	}

	var events []event.Event
	deadline := time.After(10 * time.Second)
	for len(events) == 0 || events[len(events)-1].Type != event.TypeComplete {
		time.Sleep(10 * time.Millisecond)
		select {
		case ev := <-a.Events():
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out; got %d events", len(events))
		}
	}

	want := []event.Type{event.TypeInit, event.TypeThinking, event.TypeMessage, event.TypeRaw, event.TypeComplete}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i].Type != want[i] {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, want[i])
		}
	}
}

func TestSendMessageAfterExit(t *testing.T) {
	a := New(WithBinaryPath(writeStubCLI(t, 0)))
	defer a.Dispose()

	sess, err := a.Spawn(context.Background(), agentmux.SpawnOptions{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	collectUntilComplete(t, a, sess.ID)

	// Give the reaper a beat; Alive flips once the process is gone.
	time.Sleep(50 * time.Millisecond)
	if err := a.SendMessage(context.Background(), sess.ID, "late"); err == nil {
		t.Error("expected error sending to finished session")
	}
	if a.Alive(sess.ID) {
		t.Error("finished session reported alive")
	}
}

func TestQueryCollectsText(t *testing.T) {
	result, err := Query(context.Background(), "what is 2+2?", WithBinaryPath(writeStubCLI(t, 0)))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Text != "The answer is 4." {
		t.Errorf("query text = %q", result.Text)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d", result.ExitCode)
	}
}
