//go:build unix

package supervisor

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

const exeSuffix = ""

// sysProcAttr puts the sidecar in its own process group so killTree reaches its children.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killTree SIGKILLs the process group led by pid. Once the leader has been reaped its PID may be
// reused, so the group is only signalled while no process holds that PID. A live group keeps its
// ID reserved, so a reused PID means our group is already gone.
func killTree(pid int, leaderReaped bool) error {
	if leaderReaped {
		if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("PID %d belongs to another process, not signalling its group", pid)
		}
	}
	return unix.Kill(-pid, unix.SIGKILL)
}
