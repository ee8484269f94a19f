//go:build !linux

// Package procattr configures spawned agent CLIs so their whole process
// trees can be signalled and never outlive the orchestrator.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set puts the child in its own process group. Pdeathsig is Linux-only; on
// other platforms group membership alone enables kill -<sig> -<pgid> cleanup.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
