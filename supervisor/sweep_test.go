package supervisor

import (
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/sidecar/internal/sidecartest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMatchesName(t *testing.T) {
	cases := []struct {
		name  string
		match bool
	}{
		{"flask-backend", true},
		{"flask_backend", true},
		{"FLASK-BACKEND.EXE", true},
		{"Flask_Backend.exe", true},
		{"my-flask-backend-2", true},
		{"flask", false},
		{"backend", false},
		{"flaskbackend", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.match, matchesName(c.name, DefaultMatchNames), c.name)
	}
	assert.False(t, matchesName("anything", []string{""}))
	assert.False(t, matchesName("anything", nil))
}

type orphan struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// startOrphan starts an idle fake sidecar outside of any Supervisor.
func startOrphan(t *testing.T, name string) *orphan {
	t.Helper()
	path := sidecartest.Install(t, t.TempDir(), name)
	cmd := exec.Command(path)
	cmd.Env = sidecartest.Env(0)
	require.NoError(t, cmd.Start())

	o := &orphan{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(o.done)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-o.done
	})
	return o
}

func (o *orphan) exited() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

func TestSweepKillsMatchingProcesses(t *testing.T) {
	t.Parallel()
	base := sidecartest.UniqueName()
	underscored := strings.ToUpper(strings.Replace(base, "-", "_", 1))

	hyphen := startOrphan(t, base)
	upper := startOrphan(t, underscored)
	decoy := startOrphan(t, sidecartest.UniqueName())

	// give the OS a moment to register the new process names
	time.Sleep(100 * time.Millisecond)

	sup := New(
		WithLogger(zaptest.NewLogger(t)),
		WithName(base),
		WithMatchNames(base, strings.Replace(base, "-", "_", 1)),
		WithExecutable("unused"),
	)
	sup.Sweep()

	require.Eventually(t, hyphen.exited, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, upper.exited, 5*time.Second, 20*time.Millisecond)
	assert.False(t, decoy.exited())
}

func TestStartSweepsOrphans(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	o := startOrphan(t, f.name)
	time.Sleep(100 * time.Millisecond)

	f.startReady(t)
	require.Eventually(t, o.exited, 5*time.Second, 20*time.Millisecond)
	assert.True(t, f.sup.IsRunning())
	assert.NotEqual(t, o.cmd.Process.Pid, f.sup.Status().PID)
}

func TestSweepWithNothingToKill(t *testing.T) {
	sup := New(
		WithLogger(zaptest.NewLogger(t)),
		WithName(sidecartest.UniqueName()),
		WithExecutable("unused"),
	)
	start := time.Now()
	sup.Sweep()
	assert.Less(t, time.Since(start), sweepSettle+sweepTimeout)
}
