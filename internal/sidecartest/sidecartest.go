// Package sidecartest turns the running test binary into a fake sidecar.
//
// A test package calls MaybeRun from TestMain. When the binary is re-executed with
// EnvFake set it behaves like a sidecar instead of running tests: it optionally spawns a
// child, serves a health endpoint on EnvPort and exits on request.
package sidecartest

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

const (
	EnvFake       = "SIDECARTEST_FAKE"
	EnvPort       = "SIDECARTEST_PORT"
	EnvReadyDelay = "SIDECARTEST_READY_DELAY"
	EnvExit       = "SIDECARTEST_EXIT"
	EnvChild      = "SIDECARTEST_CHILD"

	ListeningMessage = "fake sidecar listening on"
)

// MaybeRun runs the fake sidecar and exits if this process was launched as one.
// Otherwise it returns immediately.
func MaybeRun() {
	if os.Getenv(EnvFake) != "1" {
		return
	}
	os.Exit(run())
}

func run() int {
	if v := os.Getenv(EnvChild); v == "1" {
		pid, err := spawnChild()
		if err != nil {
			fmt.Fprintf(os.Stderr, "spawning child: %s\n", err)
			return 1
		}
		fmt.Printf("child pid %d\n", pid)
	}

	if v := os.Getenv(EnvExit); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			code = 1
		}
		fmt.Printf("fake sidecar exiting with %d\n", code)
		fmt.Fprintln(os.Stderr, "goodbye from stderr")
		return code
	}

	if v := os.Getenv(EnvReadyDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parsing %s: %s\n", EnvReadyDelay, err)
			return 1
		}
		time.Sleep(d)
	}

	port := os.Getenv(EnvPort)
	if port == "" {
		time.Sleep(time.Hour)
		return 0
	}

	router := httprouter.New()
	router.GET("/api/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		_, _ = io.WriteString(w, "ok")
	})

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listening: %s\n", err)
		return 1
	}
	fmt.Printf("%s %s\n", ListeningMessage, l.Addr())
	fmt.Fprintln(os.Stderr, "fake sidecar stderr is wired")
	if err := http.Serve(l, router); err != nil {
		fmt.Fprintf(os.Stderr, "serving: %s\n", err)
		return 1
	}
	return 0
}

// spawnChild starts an idle copy of this fake that inherits our process group.
func spawnChild() (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, err
	}
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, EnvPort+"=") || strings.HasPrefix(e, EnvChild+"=") || strings.HasPrefix(e, EnvExit+"=") {
			continue
		}
		env = append(env, e)
	}
	cmd := exec.Command(self)
	cmd.Env = env
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// UniqueName returns a short process name that will not collide with anything else on the host.
// It is short enough to survive the kernel's 15 byte comm limit.
func UniqueName() string {
	return "sc-" + uuid.NewString()[:8]
}

// Install places the test binary at dir/name (plus ".exe" on Windows) and returns the path.
// Processes started from that path report name as their process name.
func Install(t *testing.T, dir, name string) string {
	t.Helper()

	self, err := os.Executable()
	require.NoError(t, err)

	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	dst := filepath.Join(dir, name)
	if err := os.Symlink(self, dst); err == nil {
		return dst
	}
	copyFile(t, self, dst)
	return dst
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()

	in, err := os.Open(src)
	require.NoError(t, err)
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	require.NoError(t, err)
	_, err = io.Copy(out, in)
	require.NoError(t, err)
	require.NoError(t, out.Close())
}

// Env returns the environment that makes an installed binary behave as a fake sidecar on port.
// A zero port produces a fake that idles without listening.
func Env(port int, extra ...string) []string {
	env := []string{EnvFake + "=1"}
	if port != 0 {
		env = append(env, EnvPort+"="+strconv.Itoa(port))
	}
	return append(env, extra...)
}

func ReadyDelay(d time.Duration) string { return EnvReadyDelay + "=" + d.String() }

func ExitCode(code int) string { return EnvExit + "=" + strconv.Itoa(code) }

func WithChild() string { return EnvChild + "=1" }
