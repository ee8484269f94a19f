package codexcli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/internal/procattr"
)

// transport is the wire the client talks through. Split out so tests can
// drive the client over in-memory pipes.
type transport interface {
	ReadLine() ([]byte, error)
	WriteJSON(v interface{}) error
	Alive() bool
	Close() error
}

// processTransport runs the agent binary and frames JSON lines over stdio.
type processTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	stderr  io.ReadCloser
	writeMu sync.Mutex
	mu      sync.Mutex
	started bool
	closed  bool
}

// processSpec configures one agent process.
type processSpec struct {
	BinaryPath    string
	Args          []string
	CWD           string
	Env           []string
	StderrHandler func(line string)
}

func startProcessTransport(ctx context.Context, spec processSpec) (*processTransport, error) {
	t := &processTransport{}

	t.cmd = exec.CommandContext(ctx, spec.BinaryPath, spec.Args...)
	t.cmd.Env = append(os.Environ(), spec.Env...)
	if spec.CWD != "" {
		t.cmd.Dir = spec.CWD
	}
	procattr.Set(t.cmd)

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return nil, &agentmux.ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	t.stdin = stdin

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return nil, &agentmux.ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	t.reader = bufio.NewReader(stdout)

	t.stderr, err = t.cmd.StderrPipe()
	if err != nil {
		return nil, &agentmux.ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}

	if err := t.cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &agentmux.CLINotFoundError{Path: spec.BinaryPath, Cause: err}
		}
		return nil, &agentmux.ProcessError{Message: "failed to start agent process", Cause: err}
	}
	t.started = true

	if spec.StderrHandler != nil {
		go func() {
			scanner := bufio.NewScanner(t.stderr)
			for scanner.Scan() {
				spec.StderrHandler(scanner.Text())
			}
		}()
	}

	return t, nil
}

// ReadLine returns the next stdout line without the trailing newline.
func (t *processTransport) ReadLine() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 && err == io.EOF {
			return bytes.TrimRight(line, "\n"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\n"), nil
}

// WriteJSON writes one value as a JSON line. Serialized so concurrent
// requests never interleave on the wire.
func (t *processTransport) WriteJSON(v interface{}) error {
	t.mu.Lock()
	if t.closed || !t.started {
		t.mu.Unlock()
		return agentmux.ErrNoActiveProcess
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		return &agentmux.ProcessError{Message: "failed to write to agent stdin", Cause: err}
	}
	return nil
}

// Alive reports whether the process is still running.
func (t *processTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.closed || t.cmd.Process == nil {
		return false
	}
	return t.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Close shuts the process down: close stdin, SIGTERM group, SIGKILL group.
func (t *processTransport) Close() error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = t.cmd.Wait()
		close(done)
	}()

	if t.cmd.Process != nil {
		_ = procattr.TermGroup(t.cmd.Process)
	}

	select {
	case <-done:
		return nil
	case <-time.After(500 * time.Millisecond):
	}

	if t.cmd.Process != nil {
		_ = procattr.KillGroup(t.cmd.Process)
	}

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}
