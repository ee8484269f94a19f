package acp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveSandboxed resolves path against the session's working directory and
// rejects anything that escapes it. Agents only get file access inside the
// tree they were pointed at.
func (c *Client) resolveSandboxed(nativeSessionID, path string) (string, error) {
	c.mu.Lock()
	cs, ok := c.sessions[nativeSessionID]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown session: %s", nativeSessionID)
	}
	if cs.cwd == "" {
		return "", fmt.Errorf("session has no working directory")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cs.cwd, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(cs.cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes session working directory", path)
	}
	return abs, nil
}

func (c *Client) handleFsRead(id int64, params json.RawMessage) {
	var req ReadTextFileRequest
	if err := json.Unmarshal(params, &req); err != nil {
		c.writeError(id, ErrCodeInvalidParams, err.Error())
		return
	}

	abs, err := c.resolveSandboxed(req.SessionID, req.Path)
	if err != nil {
		c.writeError(id, ErrCodeInvalidParams, err.Error())
		return
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		c.writeError(id, ErrCodeInternalError, err.Error())
		return
	}

	content := string(data)
	if req.Line > 0 || req.Limit > 0 {
		content = sliceLines(content, req.Line, req.Limit)
	}

	resp, err := newResponse(id, ReadTextFileResponse{Content: content})
	if err != nil {
		return
	}
	_ = c.proc.WriteJSON(resp)
}

func (c *Client) handleFsWrite(id int64, params json.RawMessage) {
	var req WriteTextFileRequest
	if err := json.Unmarshal(params, &req); err != nil {
		c.writeError(id, ErrCodeInvalidParams, err.Error())
		return
	}

	abs, err := c.resolveSandboxed(req.SessionID, req.Path)
	if err != nil {
		c.writeError(id, ErrCodeInvalidParams, err.Error())
		return
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		c.writeError(id, ErrCodeInternalError, err.Error())
		return
	}
	if err := os.WriteFile(abs, []byte(req.Content), 0644); err != nil {
		c.writeError(id, ErrCodeInternalError, err.Error())
		return
	}

	resp, err := newResponse(id, WriteTextFileResponse{})
	if err != nil {
		return
	}
	_ = c.proc.WriteJSON(resp)
}

// sliceLines applies the optional 1-based line offset and line limit.
func sliceLines(content string, line, limit int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if line > 0 {
		start = line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "\n")
}
