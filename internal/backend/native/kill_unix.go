//go:build !windows

package native

import (
	"os/exec"
	"syscall"
)

// killProcessGroup sends SIGKILL to pid's process group, matching the
// tree-kill fallback of design §4.3.2.
func killProcessGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// setProcessGroup puts cmd in its own process group so killProcessGroup can
// later signal the whole tree at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
