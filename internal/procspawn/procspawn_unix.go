//go:build !windows

package procspawn

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Signal delivers sig to the whole process group rooted at cmd, so children
// the interpreter itself spawned (a shell subshell, a plotting subprocess)
// are reached too.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, sig)
}
