package supervisor

import (
	"errors"
	"os"
	"time"
)

// Stop kills the tracked sidecar and any orphaned same-named processes.
// It is safe to call when nothing is running, and never fails: problems are logged.
func (s *Supervisor) Stop() {
	s.log.Info("stopping sidecar")

	s.mu.Lock()
	if h := s.handle; h != nil {
		s.terminate(h)
	}
	s.handle = nil
	s.mu.Unlock()

	s.Sweep()
	s.log.Info("sidecar stopped")
}

// terminate kills h and its descendants, then waits for reap. Called with s.mu held.
func (s *Supervisor) terminate(h *handle) {
	s.log.Infow("killing sidecar", "PID", h.pid, "RunID", h.runID)

	// descendants can outlive an exited sidecar, so the tree is killed regardless
	if err := killTree(h.pid, h.exited()); err != nil {
		s.log.Debugw("process tree kill failed", "PID", h.pid, "Error", err)
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warnw("killing sidecar failed", "PID", h.pid, "Error", err)
	}

	select {
	case <-h.done:
	case <-time.After(reapTimeout):
		s.log.Errorw("sidecar did not exit after kill", "PID", h.pid, "Timeout", reapTimeout)
	}
}
