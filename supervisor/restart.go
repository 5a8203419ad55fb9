package supervisor

import (
	"context"

	inet "github.com/guseggert/sidecar/internal/net"
)

// Restart stops the sidecar, waits up to a second for its port to be released, starts it
// again and waits up to RestartReadyTimeout for it to become ready. Observers see the
// sidecar as not running in between.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()

	if !inet.WaitPortFree(ctx, s.port, restartPortWait, restartPortPoll) {
		s.log.Warnw("port not released after stop", "Port", s.port)
	}

	if err := s.Start(); err != nil {
		return err
	}
	return s.WaitReady(ctx, RestartReadyTimeout)
}
