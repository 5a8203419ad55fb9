package control

import (
	"time"
)

type AppInfoResponse struct {
	Name           string
	Version        string
	SidecarRunning bool
}

type StatusResponse struct {
	Running   bool
	Healthy   bool
	Port      int
	PID       int
	RunID     string
	StartedAt time.Time
}

type MessageResponse struct {
	Message string
}

// ErrorResponse is the body of every non-2xx response.
// Kind is one of the supervisor.ErrorKind values.
type ErrorResponse struct {
	Error string
	Kind  string
}
