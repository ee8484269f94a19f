package claudecli

import (
	"testing"
)

func TestParseSystemInit(t *testing.T) {
	line := []byte(`{"type":"system","subtype":"init","session_id":"abc123","model":"opus","cwd":"/work","permissionMode":"default"}`)
	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	init, ok := msg.(*SystemInitMessage)
	if !ok {
		t.Fatalf("expected *SystemInitMessage, got %T", msg)
	}
	if init.SessionID != "abc123" || init.Model != "opus" || init.CWD != "/work" {
		t.Errorf("unexpected fields: %+v", init)
	}
}

func TestParseAssistantBlocks(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"2+2"},{"type":"text","text":"4"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]},"session_id":"abc123"}`)
	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	am, ok := msg.(*AssistantMessage)
	if !ok {
		t.Fatalf("expected *AssistantMessage, got %T", msg)
	}
	if len(am.Message.Content) != 3 {
		t.Fatalf("expected 3 content blocks, got %d", len(am.Message.Content))
	}
	if am.Message.Content[0].Thinking != "2+2" {
		t.Errorf("thinking block = %q", am.Message.Content[0].Thinking)
	}
	if am.Message.Content[1].Text != "4" {
		t.Errorf("text block = %q", am.Message.Content[1].Text)
	}
	tu := am.Message.Content[2]
	if tu.ID != "t1" || tu.Name != "Bash" || tu.Input["command"] != "ls" {
		t.Errorf("tool_use block = %+v", tu)
	}
}

func TestParseUserToolResult(t *testing.T) {
	line := []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]},"session_id":"abc123"}`)
	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	um, ok := msg.(*UserMessage)
	if !ok {
		t.Fatalf("expected *UserMessage, got %T", msg)
	}
	if um.Message.Content[0].ToolUseID != "t1" {
		t.Errorf("tool_use_id = %q", um.Message.Content[0].ToolUseID)
	}
}

func TestParseResult(t *testing.T) {
	line := []byte(`{"type":"result","subtype":"success","is_error":false,"result":"The answer is 4.","session_id":"abc123"}`)
	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	rm, ok := msg.(*ResultMessage)
	if !ok {
		t.Fatalf("expected *ResultMessage, got %T", msg)
	}
	if rm.IsError || rm.Result != "The answer is 4." {
		t.Errorf("unexpected result: %+v", rm)
	}
}

func TestParseUnknownType(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":"surprise"}`)); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	if _, err := ParseMessage([]byte(`not json at all`)); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestParseSkippedSystemSubtype(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"system","subtype":"status"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for skipped subtype, got %T", msg)
	}
}
