package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HealthCheck issues one GET to the health endpoint.
// It returns true only for a 2xx status. Timeouts, refused connections and other statuses
// return false with a nil error, since they are expected while the sidecar boots. An error
// means the request itself could not be built.
func (s *Supervisor) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.HealthURL(), nil)
	if err != nil {
		return false, fmt.Errorf("building health check request: %w", err)
	}
	resp, err := s.healthClient.Do(req)
	if err != nil {
		s.log.Debugw("health check failed", "Error", err)
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// WaitReady polls HealthCheck every 200ms until it succeeds, returning an error wrapping
// ErrStartupTimeout once timeout has elapsed. Cancelling ctx stops the wait early.
func (s *Supervisor) WaitReady(ctx context.Context, timeout time.Duration) error {
	s.log.Infow("waiting for sidecar to become ready", "Timeout", timeout)

	start := time.Now()
	for {
		if time.Since(start) > timeout {
			return fmt.Errorf("%w after %s", ErrStartupTimeout, timeout)
		}

		ok, err := s.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if ok {
			s.log.Infow("sidecar is ready", "Elapsed", time.Since(start))
			return nil
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
