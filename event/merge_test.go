package event

import (
	"testing"
	"time"
)

func TestCanMergeMessageFragments(t *testing.T) {
	a := NewMessage("s1", "assistant", "The answer")
	b := NewMessage("s1", "assistant", " is 4.")
	if !CanMerge(a, b) {
		t.Error("expected same-speaker message fragments to merge")
	}
}

func TestCanMergeRejectsCrossSpeaker(t *testing.T) {
	a := NewMessage("s1", "assistant", "done")
	b := NewMessage("s1", "user", "thanks")
	if CanMerge(a, b) {
		t.Error("cross-speaker messages must not merge")
	}
}

func TestCanMergeRejectsCrossType(t *testing.T) {
	a := NewMessage("s1", "assistant", "let me think")
	b := NewThinking("s1", "2+2")
	if CanMerge(a, b) {
		t.Error("message and thinking must not merge")
	}
	if CanMerge(NewToolCall("s1", ToolCallPayload{ToolCallID: "t1"}), NewToolCall("s1", ToolCallPayload{ToolCallID: "t1"})) {
		t.Error("tool calls must never merge")
	}
}

func TestCanMergeRejectsCrossSession(t *testing.T) {
	a := NewThinking("s1", "a")
	b := NewThinking("s2", "b")
	if CanMerge(a, b) {
		t.Error("fragments from different sessions must not merge")
	}
}

func TestMergeIsLossless(t *testing.T) {
	a := NewMessage("s1", "assistant", "Hello, ")
	b := NewMessage("s1", "assistant", "world")
	merged := Merge(a, b)
	if got := merged.Message.Content; got != "Hello, world" {
		t.Errorf("merged content = %q, want %q", got, "Hello, world")
	}
	// Inputs are untouched.
	if a.Message.Content != "Hello, " || b.Message.Content != "world" {
		t.Error("merge mutated its inputs")
	}
}

func TestMergeAdvancesTimestamp(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	a := NewThinking("s1", "part one ")
	a.Timestamp = t0
	b := NewThinking("s1", "part two")
	b.Timestamp = t1

	merged := Merge(a, b)
	if merged.Thinking.Content != "part one part two" {
		t.Errorf("merged content = %q", merged.Thinking.Content)
	}
	if !merged.Timestamp.Equal(t1) {
		t.Errorf("merged timestamp = %v, want %v", merged.Timestamp, t1)
	}

	// An out-of-order timestamp never moves the merged record backwards.
	c := NewThinking("s1", "!")
	c.Timestamp = t0
	merged2 := Merge(merged, c)
	if !merged2.Timestamp.Equal(t1) {
		t.Errorf("merged timestamp moved backwards to %v", merged2.Timestamp)
	}
}

func TestMergeChainEqualsConcatenation(t *testing.T) {
	parts := []string{"The ", "answer ", "is ", "4."}
	acc := NewMessage("s1", "assistant", parts[0])
	for _, p := range parts[1:] {
		next := NewMessage("s1", "assistant", p)
		if !CanMerge(acc, next) {
			t.Fatalf("fragment %q failed to merge", p)
		}
		acc = Merge(acc, next)
	}
	if acc.Message.Content != "The answer is 4." {
		t.Errorf("chain merge = %q", acc.Message.Content)
	}
}
