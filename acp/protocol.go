package acp

// --- Initialize ---

// InitializeRequest establishes the connection and advertises what the
// orchestrator can serve.
type InitializeRequest struct {
	ClientCapabilities *ClientCapabilities `json:"clientCapabilities,omitempty"`
	ClientInfo         *Implementation     `json:"clientInfo,omitempty"`
	ProtocolVersion    int                 `json:"protocolVersion"`
}

// InitializeResponse carries the agent's identity and capabilities.
type InitializeResponse struct {
	AgentCapabilities *AgentCapabilities `json:"agentCapabilities,omitempty"`
	AgentInfo         *Implementation    `json:"agentInfo,omitempty"`
	ProtocolVersion   int                `json:"protocolVersion"`
}

// Implementation identifies a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities advertises orchestrator-side services. Terminal is
// deliberately absent: terminal methods are answered method-not-found.
type ClientCapabilities struct {
	Fs *FsCapability `json:"fs,omitempty"`
}

// FsCapability describes file system capabilities.
type FsCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// AgentCapabilities advertises agent-side features.
type AgentCapabilities struct {
	LoadSession bool `json:"loadSession,omitempty"`
	ImageInput  bool `json:"imageInput,omitempty"`
	AudioInput  bool `json:"audioInput,omitempty"`
}

// --- Session lifecycle ---

// NewSessionRequest creates a conversation session.
type NewSessionRequest struct {
	CWD        string            `json:"cwd"`
	McpServers []McpServerConfig `json:"mcpServers"`
}

// NewSessionResponse returns the agent's session id.
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// LoadSessionRequest reattaches to a previously created session. Only valid
// when the agent advertised the loadSession capability.
type LoadSessionRequest struct {
	SessionID  string            `json:"sessionId"`
	CWD        string            `json:"cwd"`
	McpServers []McpServerConfig `json:"mcpServers"`
}

// LoadSessionResponse is empty on success.
type LoadSessionResponse struct{}

// McpServerConfig configures an MCP server for the session.
type McpServerConfig struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Command string   `json:"command,omitempty"`
	URL     string   `json:"url,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// --- Prompt ---

// PromptRequest forwards a user prompt into a session. The response arrives
// only when the turn finishes.
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResponse closes the turn.
type PromptResponse struct {
	StopReason string `json:"stopReason"` // "end_turn", "cancelled", "max_tokens", "refusal"
}

// CancelNotification aborts the in-flight prompt.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// ContentBlock is typed content in prompts and update chunks.
type ContentBlock struct {
	Type string `json:"type"` // "text", "image", "audio", "resource_link"
	Text string `json:"text,omitempty"`

	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// NewTextContent creates a text content block.
func NewTextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// --- Session updates ---

// SessionNotification is the params of a session/update notification.
type SessionNotification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// SessionUpdate is a discriminated union; Type selects the populated fields.
type SessionUpdate struct {
	Type string `json:"sessionUpdate"`

	// message / thought chunks
	Content *ContentBlock `json:"content,omitempty"`

	// tool_call and tool_call_update
	ToolCallID string                 `json:"toolCallId,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Kind       string                 `json:"kind,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`

	// plan
	Plan *Plan `json:"plan,omitempty"`
}

// Plan is the agent's current execution plan.
type Plan struct {
	Entries []PlanEntry `json:"entries"`
}

// PlanEntry is one step of a plan.
type PlanEntry struct {
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// --- Agent-initiated requests ---

// RequestPermissionRequest asks the operator to allow a tool call.
type RequestPermissionRequest struct {
	ToolCall  ToolCallInfo       `json:"toolCall"`
	SessionID string             `json:"sessionId"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallInfo describes the tool call requiring permission.
type ToolCallInfo struct {
	Input      map[string]interface{} `json:"input,omitempty"`
	ToolCallID string                 `json:"toolCallId"`
	Title      string                 `json:"title,omitempty"`
	Kind       string                 `json:"kind,omitempty"`
	Status     string                 `json:"status,omitempty"`
}

// PermissionOption is one choice the agent offers.
type PermissionOption struct {
	ID   string `json:"optionId"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "allow_once", "allow_always", "reject_once", "reject_always"
}

// RequestPermissionResponse carries the operator's decision.
type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is discriminated by Type.
type PermissionOutcome struct {
	Type     string `json:"type"` // "selected", "cancelled"
	OptionID string `json:"optionId,omitempty"`
}

// ReadTextFileRequest reads a file on the agent's behalf.
type ReadTextFileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      int    `json:"line,omitempty"` // 1-based
	Limit     int    `json:"limit,omitempty"`
}

// ReadTextFileResponse returns the content.
type ReadTextFileResponse struct {
	Content string `json:"content"`
}

// WriteTextFileRequest writes a file on the agent's behalf.
type WriteTextFileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// WriteTextFileResponse is empty on success.
type WriteTextFileResponse struct{}
