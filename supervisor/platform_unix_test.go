//go:build unix

package supervisor

import (
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/guseggert/sidecar/internal/sidecartest"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alive treats zombies as dead since nothing may be left to reap a reparented child.
func alive(pid int32) bool {
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func TestStopKillsProcessTree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idle(sidecartest.WithChild()))

	require.NoError(t, f.sup.Start())
	line := waitForLine(t, f.sup.Output(), "child pid ")

	var child int32
	_, err := fmt.Sscanf(line.Text, "child pid %d", &child)
	require.NoError(t, err)
	require.True(t, alive(child))

	f.sup.Stop()
	assert.False(t, f.sup.IsRunning())
	require.Eventually(t, func() bool { return !alive(child) }, 5*time.Second, 20*time.Millisecond)
}

func TestStopKillsDescendantsOfExitedSidecar(t *testing.T) {
	t.Parallel()
	f := newFixture(t, idle(sidecartest.WithChild(), sidecartest.ExitCode(0)))

	require.NoError(t, f.sup.Start())
	line := waitForLine(t, f.sup.Output(), "child pid ")
	var child int32
	_, err := fmt.Sscanf(line.Text, "child pid %d", &child)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.sup.IsRunning() }, 10*time.Second, 20*time.Millisecond)
	require.True(t, alive(child), "child outlives its parent until Stop")

	f.sup.Stop()
	assert.Zero(t, f.sup.Status().PID)
	require.Eventually(t, func() bool { return !alive(child) }, 5*time.Second, 20*time.Millisecond)
}

func TestKillTreeSparesReusedPID(t *testing.T) {
	t.Parallel()
	path := sidecartest.Install(t, t.TempDir(), sidecartest.UniqueName())
	cmd := exec.Command(path)
	cmd.Env = sidecartest.Env(0)
	cmd.SysProcAttr = sysProcAttr()
	require.NoError(t, cmd.Start())
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-done
	})
	pid := cmd.Process.Pid

	// a reaped leader whose PID now names a live process stands for PID reuse
	assert.Error(t, killTree(pid, true))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, alive(int32(pid)))

	require.NoError(t, killTree(pid, false))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("group was not killed")
	}
}
