package supervisor

import (
	"os/exec"
	"time"
)

// handle is the tracked sidecar process. Only the Supervisor holds one.
type handle struct {
	cmd     *exec.Cmd
	pid     int
	runID   string
	started time.Time

	// spawned is closed once pid and started are set.
	spawned chan struct{}

	stdout *lineWriter
	stderr *lineWriter

	// done is closed by reap once the process has exited and been waited on.
	done    chan struct{}
	exitErr error
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
