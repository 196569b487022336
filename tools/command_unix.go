//go:build unix

package tools

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the command in its own process group and kills the
// whole group on cancellation, so "sleep 100 &" style children die too.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
