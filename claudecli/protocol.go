package claudecli

import (
	"encoding/json"
	"fmt"
)

// RawMessage is used for initial type discrimination of stdout lines.
type RawMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}

// SystemInitMessage announces the backend session.
// Example: {"type":"system","subtype":"init","session_id":"...","model":"...","cwd":"...","permissionMode":"default"}
type SystemInitMessage struct {
	Type           string `json:"type"`
	Subtype        string `json:"subtype"`
	SessionID      string `json:"session_id"`
	Model          string `json:"model"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permissionMode"`
}

// ContentBlock is one element of a message's content array. Exactly the
// fields for the block's type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "thinking"
	Thinking string `json:"thinking,omitempty"`

	// type == "tool_use"
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   interface{} `json:"content,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
}

// MessageInner is the role/content envelope inside assistant and user lines.
type MessageInner struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// AssistantMessage carries agent output: text, thinking, and tool_use blocks.
type AssistantMessage struct {
	Type      string       `json:"type"`
	Message   MessageInner `json:"message"`
	SessionID string       `json:"session_id"`
}

// UserMessage carries tool results echoed back through the stream.
type UserMessage struct {
	Type      string       `json:"type"`
	Message   MessageInner `json:"message"`
	SessionID string       `json:"session_id"`
}

// ResultMessage is the final line of a run.
// Example: {"type":"result","subtype":"success","is_error":false,"result":"...","session_id":"..."}
type ResultMessage struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	DurationMs int64   `json:"duration_ms"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	TotalCost  float64 `json:"total_cost_usd,omitempty"`
}

// Message is the union type returned by ParseMessage.
type Message interface {
	messageType() string
}

func (m *SystemInitMessage) messageType() string { return "system" }
func (m *AssistantMessage) messageType() string  { return "assistant" }
func (m *UserMessage) messageType() string       { return "user" }
func (m *ResultMessage) messageType() string     { return "result" }

// ParseMessage parses one stdout line into a typed message. A nil, nil
// return means the line was valid JSON of a type we deliberately skip.
func ParseMessage(line []byte) (Message, error) {
	var raw RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse message type: %w", err)
	}

	switch raw.Type {
	case "system":
		if raw.Subtype == "init" {
			var msg SystemInitMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				return nil, fmt.Errorf("failed to parse system init message: %w", err)
			}
			return &msg, nil
		}
		// Other system subtypes carry no timeline content.
		return nil, nil

	case "assistant":
		var msg AssistantMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse assistant message: %w", err)
		}
		return &msg, nil

	case "user":
		var msg UserMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse user message: %w", err)
		}
		return &msg, nil

	case "result":
		var msg ResultMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse result message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", raw.Type)
	}
}
