//go:build windows

package supervisor

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
)

const exeSuffix = ".exe"

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: true}
}

// killTree uses taskkill, which walks the parent PID chain for us. A reaped leader's PID may
// already name an unrelated tree, so nothing is killed then.
func killTree(pid int, leaderReaped bool) error {
	if leaderReaped {
		return nil
	}
	out, err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}
