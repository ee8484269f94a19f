package procattr

import (
	"os"
	"syscall"
)

// SignalGroup delivers sig to the process's entire group. The negative PID
// addresses the group rather than the single child.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// TermGroup sends SIGTERM to the process group.
func TermGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGTERM)
}

// KillGroup sends SIGKILL to the process group.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}
