//go:build linux

// Package procattr configures spawned agent CLIs so their whole process
// trees can be signalled and never outlive the orchestrator.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set puts the child in its own process group and arranges for it to receive
// SIGTERM if the orchestrator dies (OOM kill, SIGKILL). Agent CLIs fork tool
// subprocesses; group signalling is the only way to reap the whole tree.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
