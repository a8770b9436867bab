//go:build unix

package stage

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group and kills the
// whole group on context cancellation. soffice in particular forks helpers
// that would otherwise survive a timeout kill of the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
}
