package supervisor

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	inet "github.com/guseggert/sidecar/internal/net"
	"github.com/guseggert/sidecar/internal/sidecartest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	sidecartest.MaybeRun()
	os.Exit(m.Run())
}

type fixture struct {
	sup  *Supervisor
	name string
	port int
	dir  string
}

// newFixture installs a fake sidecar under a unique name in a temp dir and builds a
// Supervisor that finds it through its dev dirs.
func newFixture(t *testing.T, env func(port int) []string, opts ...Option) *fixture {
	t.Helper()

	port, err := inet.GetEphemeralTCPPort()
	require.NoError(t, err)

	f := &fixture{
		name: sidecartest.UniqueName(),
		port: port,
		dir:  t.TempDir(),
	}
	sidecartest.Install(t, f.dir, f.name)

	if env == nil {
		env = listening()
	}
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithName(f.name),
		WithPort(port),
		WithDevDirs(f.dir),
		WithEnv(env(port)...),
	}, opts...)
	f.sup = New(opts...)
	t.Cleanup(f.sup.Stop)
	return f
}

func (f *fixture) startReady(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sup.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.sup.WaitReady(ctx, 10*time.Second))
}

func waitForLine(t *testing.T, out *Output, substr string) OutputLine {
	t.Helper()
	var found OutputLine
	require.Eventually(t, func() bool {
		for _, l := range out.Since(0) {
			if strings.Contains(l.Text, substr) {
				found = l
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond, "no output line containing %q", substr)
	return found
}

// listening makes the fake serve its health endpoint on the fixture's port.
func listening(extra ...string) func(int) []string {
	return func(port int) []string { return sidecartest.Env(port, extra...) }
}

// idle makes the fake run without listening anywhere.
func idle(extra ...string) func(int) []string {
	return func(int) []string { return sidecartest.Env(0, extra...) }
}
