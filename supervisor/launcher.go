package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/sidecar/internal/files"
	inet "github.com/guseggert/sidecar/internal/net"
)

// Start launches the sidecar. Callers must not call Start concurrently with itself.
//
// It first sweeps away same-named processes, then fails with ErrPortInUse if the port
// stays occupied after a one second grace period, or with ErrExecutableNotFound if the
// executable is missing. It does not retry.
func (s *Supervisor) Start() error {
	s.Sweep()

	if inet.PortInUse(s.port) {
		s.log.Warnw("port still in use, waiting", "Port", s.port)
		time.Sleep(portRetryDelay)
		if inet.PortInUse(s.port) {
			return fmt.Errorf("%w: %d", ErrPortInUse, s.port)
		}
	}

	if !files.Exists(s.exePath) {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, s.exePath)
	}

	s.log.Infow("starting sidecar", "Path", s.exePath)

	cmd := exec.Command(s.exePath)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	cmd.SysProcAttr = sysProcAttr()
	// a grandchild holding our pipes open must not block reaping forever
	cmd.WaitDelay = pipeWaitDelay

	h := &handle{
		cmd:   cmd,
		runID:   uuid.NewString(),
		spawned: make(chan struct{}),
		done:    make(chan struct{}),
	}
	h.stdout = newLineWriter(func(line string) { s.emit(h, StreamStdout, line) })
	h.stderr = newLineWriter(func(line string) { s.emit(h, StreamStderr, line) })
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if err := cmd.Start(); err != nil {
		close(h.spawned)
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	h.pid = cmd.Process.Pid
	h.started = time.Now()
	close(h.spawned)
	go s.reap(h)

	s.mu.Lock()
	if prev := s.handle; prev != nil {
		s.log.Warnw("replacing stale sidecar handle", "PID", prev.pid, "RunID", prev.runID)
	}
	s.handle = h
	s.mu.Unlock()

	s.log.Infow("sidecar started", "PID", h.pid, "RunID", h.runID)
	return nil
}

// reap waits for the process to exit. It is the only caller of cmd.Wait.
func (s *Supervisor) reap(h *handle) {
	err := h.cmd.Wait()
	h.stdout.flush()
	h.stderr.flush()
	h.exitErr = err
	s.log.Infow("sidecar exited", "PID", h.pid, "RunID", h.runID, "Error", err)
	close(h.done)
}

// emit runs on the pipe copying goroutines, which start before cmd.Start returns.
func (s *Supervisor) emit(h *handle, stream, line string) {
	<-h.spawned
	s.output.Append(stream, line, h.pid)
	s.outLog.Debugw(line, "Stream", stream, "PID", h.pid)
}
