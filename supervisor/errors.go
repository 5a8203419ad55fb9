package supervisor

import (
	"errors"
)

var (
	// ErrPortInUse is returned by Start when something else is listening on the sidecar port.
	ErrPortInUse = errors.New("port is already in use")

	// ErrExecutableNotFound is returned by Start when the resolved executable does not exist.
	ErrExecutableNotFound = errors.New("sidecar executable not found")

	// ErrSpawnFailed is returned by Start when the OS refuses to start the executable.
	ErrSpawnFailed = errors.New("failed to start sidecar")

	// ErrStartupTimeout is returned by WaitReady when the health endpoint never succeeded.
	ErrStartupTimeout = errors.New("sidecar startup timeout")
)

// ErrorKind names the failure class of err, for rendering to users.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPortInUse):
		return "PortInUse"
	case errors.Is(err, ErrExecutableNotFound):
		return "ExecutableNotFound"
	case errors.Is(err, ErrSpawnFailed):
		return "SpawnFailed"
	case errors.Is(err, ErrStartupTimeout):
		return "StartupTimeout"
	default:
		return "Internal"
	}
}
