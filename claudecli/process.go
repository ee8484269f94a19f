package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/agentmux/agentmux"
	"github.com/agentmux/agentmux/internal/procattr"
)

// spawnSpec is everything one invocation needs.
type spawnSpec struct {
	Prompt         string
	CWD            string
	Model          string
	PermissionMode agentmux.PermissionMode
	Resume         string
	Env            []string
}

// processManager owns one CLI process: argv construction, spawn, line
// reading, and the stop ladder.
type processManager struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	reader   *bufio.Reader
	config   Config
	spec     spawnSpec
	exited   chan struct{}
	exitCode int
	mu       sync.Mutex
	started  bool
	stopping bool
}

func newProcessManager(spec spawnSpec, config Config) *processManager {
	return &processManager{config: config, spec: spec}
}

// BuildCLIArgs builds the argv for one spawn.
//
// The CLI runs in print mode: -p <prompt> --output-format stream-json --verbose.
func (pm *processManager) BuildCLIArgs() []string {
	args := []string{
		"-p", pm.spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}

	model := pm.spec.Model
	if model == "" {
		model = pm.config.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	switch pm.spec.PermissionMode {
	case agentmux.PermissionBypass:
		args = append(args, "--dangerously-skip-permissions")
	case agentmux.PermissionAcceptEdits, agentmux.PermissionPlan:
		args = append(args, "--permission-mode", string(pm.spec.PermissionMode))
	case agentmux.PermissionDefault, "":
		// CLI default.
	default:
		slog.Warn("ignoring unrecognized permission mode", "mode", pm.spec.PermissionMode)
	}

	if pm.spec.Resume != "" {
		args = append(args, "--resume", pm.spec.Resume)
	}

	args = append(args, pm.config.ExtraArgs...)
	return args
}

// Start spawns the CLI process.
func (pm *processManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.started {
		return agentmux.ErrAlreadyStarted
	}

	pm.cmd = exec.CommandContext(ctx, pm.config.BinaryPath, pm.BuildCLIArgs()...)
	pm.cmd.Env = append(os.Environ(), pm.config.Env...)
	pm.cmd.Env = append(pm.cmd.Env, pm.spec.Env...)
	if pm.spec.CWD != "" {
		pm.cmd.Dir = pm.spec.CWD
	}
	procattr.Set(pm.cmd)

	var err error
	pm.stdin, err = pm.cmd.StdinPipe()
	if err != nil {
		return &agentmux.ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	pm.stdout, err = pm.cmd.StdoutPipe()
	if err != nil {
		return &agentmux.ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	pm.stderr, err = pm.cmd.StderrPipe()
	if err != nil {
		return &agentmux.ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}
	pm.reader = bufio.NewReader(pm.stdout)

	if err := pm.cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &agentmux.CLINotFoundError{Path: pm.config.BinaryPath, Cause: err}
		}
		return &agentmux.ProcessError{Message: "failed to start CLI process", Cause: err}
	}

	if pm.config.StderrHandler != nil {
		go pm.drainStderr()
	}

	pm.exited = make(chan struct{})
	pm.started = true
	return nil
}

func (pm *processManager) drainStderr() {
	scanner := bufio.NewScanner(pm.stderr)
	for scanner.Scan() {
		pm.config.StderrHandler(scanner.Text())
	}
}

// ReadLine reads the next stdout line, without the trailing newline.
func (pm *processManager) ReadLine() ([]byte, error) {
	pm.mu.Lock()
	reader := pm.reader
	pm.mu.Unlock()

	if reader == nil {
		return nil, agentmux.ErrNotStarted
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 && err == io.EOF {
			return bytes.TrimRight(line, "\n"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\n"), nil
}

// WriteStdin writes raw bytes to the process stdin.
func (pm *processManager) WriteStdin(data []byte) error {
	pm.mu.Lock()
	stdin := pm.stdin
	started := pm.started
	pm.mu.Unlock()

	if !started || stdin == nil {
		return agentmux.ErrNoActiveProcess
	}
	_, err := stdin.Write(data)
	return err
}

// Wait reaps the process and returns its exit code. The session's read loop
// calls it exactly once, after stdout hits EOF; cmd.Wait must not race reads
// because it closes the stdout pipe.
func (pm *processManager) Wait() (int, error) {
	err := pm.cmd.Wait()

	pm.mu.Lock()
	if err == nil {
		pm.exitCode = 0
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			pm.exitCode = exitErr.ExitCode()
			err = nil
		} else {
			pm.exitCode = -1
		}
	}
	code := pm.exitCode
	close(pm.exited)
	pm.mu.Unlock()

	return code, err
}

// Alive reports whether the process is still running.
func (pm *processManager) Alive() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.started || pm.cmd == nil || pm.cmd.Process == nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return pm.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Stop shuts the process down: close stdin, SIGTERM the group, then SIGKILL.
func (pm *processManager) Stop() error {
	pm.mu.Lock()
	if !pm.started || pm.stopping {
		pm.mu.Unlock()
		return nil
	}
	pm.stopping = true
	stdin := pm.stdin
	pm.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	// Graceful ladder: SIGTERM the group, wait, then SIGKILL. The read loop
	// reaps the process and closes pm.exited once stdout drains.
	if pm.cmd.Process != nil {
		_ = procattr.TermGroup(pm.cmd.Process)
	}

	select {
	case <-pm.exited:
		return nil
	case <-time.After(500 * time.Millisecond):
	}

	if pm.cmd.Process != nil {
		_ = procattr.KillGroup(pm.cmd.Process)
	}

	select {
	case <-pm.exited:
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}
