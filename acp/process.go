package acp

import (
	"bufio"
	"bytes"
	"context"
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

// processManager owns one agent process and frames JSON lines over stdio.
type processManager struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	stderr  io.ReadCloser
	config  ClientConfig
	writeMu sync.Mutex
	mu      sync.Mutex
	started bool
	closed  bool
}

func newProcessManager(config ClientConfig) *processManager {
	return &processManager{config: config}
}

// Start spawns the agent process.
func (pm *processManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.started {
		return agentmux.ErrAlreadyStarted
	}

	pm.cmd = exec.CommandContext(ctx, pm.config.BinaryPath, pm.config.Args...)
	pm.cmd.Env = append(os.Environ(), pm.config.Env...)
	if pm.config.CWD != "" {
		pm.cmd.Dir = pm.config.CWD
	}
	procattr.Set(pm.cmd)

	stdin, err := pm.cmd.StdinPipe()
	if err != nil {
		return &agentmux.ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	pm.stdin = stdin

	stdout, err := pm.cmd.StdoutPipe()
	if err != nil {
		return &agentmux.ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	pm.reader = bufio.NewReader(stdout)

	pm.stderr, err = pm.cmd.StderrPipe()
	if err != nil {
		return &agentmux.ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}

	if err := pm.cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &agentmux.CLINotFoundError{Path: pm.config.BinaryPath, Cause: err}
		}
		return &agentmux.ProcessError{Message: "failed to start agent process", Cause: err}
	}
	pm.started = true

	if pm.config.StderrHandler != nil {
		go func() {
			scanner := bufio.NewScanner(pm.stderr)
			for scanner.Scan() {
				pm.config.StderrHandler(scanner.Text())
			}
		}()
	}

	return nil
}

// ReadLine returns the next stdout line without the trailing newline.
func (pm *processManager) ReadLine() ([]byte, error) {
	line, err := pm.reader.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 && err == io.EOF {
			return bytes.TrimRight(line, "\n"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\n"), nil
}

// WriteJSON writes one value as a JSON line, serialized against interleaving.
func (pm *processManager) WriteJSON(v interface{}) error {
	pm.mu.Lock()
	if pm.closed || !pm.started {
		pm.mu.Unlock()
		return agentmux.ErrNoActiveProcess
	}
	pm.mu.Unlock()

	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	enc, err := marshalLine(v)
	if err != nil {
		return err
	}
	if _, err := pm.stdin.Write(enc); err != nil {
		return &agentmux.ProcessError{Message: "failed to write to agent stdin", Cause: err}
	}
	return nil
}

// Alive reports whether the process is still running.
func (pm *processManager) Alive() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.started || pm.closed || pm.cmd.Process == nil {
		return false
	}
	return pm.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Stop shuts the process down: close stdin, SIGTERM group, SIGKILL group.
func (pm *processManager) Stop() error {
	pm.mu.Lock()
	if !pm.started || pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	pm.mu.Unlock()

	_ = pm.stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = pm.cmd.Wait()
		close(done)
	}()

	if pm.cmd.Process != nil {
		_ = procattr.TermGroup(pm.cmd.Process)
	}

	select {
	case <-done:
		return nil
	case <-time.After(500 * time.Millisecond):
	}

	if pm.cmd.Process != nil {
		_ = procattr.KillGroup(pm.cmd.Process)
	}

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}
