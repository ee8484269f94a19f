package acp

import (
	"encoding/json"
	"time"
)

// ClientConfig holds per-process settings.
type ClientConfig struct {
	// BinaryPath is the agent binary. Defaults to "gemini".
	BinaryPath string

	// Args put the binary into ACP mode. Defaults to ["--experimental-acp"].
	Args []string

	// CWD is the process working directory.
	CWD string

	// Env are extra KEY=VALUE pairs for the process.
	Env []string

	// ClientName and ClientVersion identify us in initialize.
	ClientName    string
	ClientVersion string

	// StderrHandler receives stderr lines.
	StderrHandler func(line string)

	// RequestTimeout bounds short calls (initialize, session/new). Prompt
	// turns are unbounded; they end when the agent ends them.
	RequestTimeout time.Duration
}

// ClientOption configures a client.
type ClientOption func(*ClientConfig)

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		BinaryPath:     "gemini",
		Args:           []string{"--experimental-acp"},
		ClientName:     "agentmux",
		ClientVersion:  "1.0.0",
		RequestTimeout: 30 * time.Second,
	}
}

// WithBinaryPath sets the agent binary path.
func WithBinaryPath(path string) ClientOption {
	return func(c *ClientConfig) { c.BinaryPath = path }
}

// WithArgs replaces the ACP-mode arguments.
func WithArgs(args ...string) ClientOption {
	return func(c *ClientConfig) { c.Args = args }
}

// WithCWD sets the process working directory.
func WithCWD(dir string) ClientOption {
	return func(c *ClientConfig) { c.CWD = dir }
}

// WithEnv adds KEY=VALUE pairs to the process environment.
func WithEnv(env ...string) ClientOption {
	return func(c *ClientConfig) { c.Env = append(c.Env, env...) }
}

// WithStderrHandler sets a callback for stderr lines.
func WithStderrHandler(fn func(line string)) ClientOption {
	return func(c *ClientConfig) { c.StderrHandler = fn }
}

// WithRequestTimeout bounds short JSON-RPC calls.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if d > 0 {
			c.RequestTimeout = d
		}
	}
}

func marshalLine(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
