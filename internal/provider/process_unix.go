//go:build unix

package provider

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group so that Stop
// reaches anything a wrapper script spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
