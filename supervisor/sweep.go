package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/multierr"
)

// Sweep force-kills every process whose name contains one of the match names, ignoring
// case, whether or not this Supervisor started it. Failures are logged, not returned.
func (s *Supervisor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	s.log.Debugw("sweeping for sidecar processes", "Names", s.matchNames)
	killed, err := sweep(ctx, s.matchNames)
	for _, e := range multierr.Errors(err) {
		s.log.Warnw("sweep failure", "Error", e)
	}
	if len(killed) == 0 {
		return
	}
	s.log.Infow("killed sidecar processes", "PIDs", killed)
	// let the OS release the port before anyone probes it
	time.Sleep(sweepSettle)
}

func sweep(ctx context.Context, names []string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := int32(os.Getpid())
	var (
		killed []int32
		errs   error
	)
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited while we were listing, or not ours to inspect
			continue
		}
		if !matchesName(name, names) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("killing %s (PID %d): %w", name, p.Pid, err))
			continue
		}
		killed = append(killed, p.Pid)
	}
	return killed, errs
}

func matchesName(name string, names []string) bool {
	name = strings.ToLower(name)
	for _, n := range names {
		if n != "" && strings.Contains(name, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
