package supervisor

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultName is the sidecar's executable base name, without any platform suffix.
	DefaultName = "flask-backend"
	// DefaultPort is the loopback port the sidecar listens on.
	DefaultPort = 2008
	// DefaultHealthPath is the sidecar's health endpoint.
	DefaultHealthPath = "/api/health"

	// RestartReadyTimeout bounds WaitReady inside Restart.
	RestartReadyTimeout = 10 * time.Second

	portRetryDelay     = 1 * time.Second
	healthCheckTimeout = 2 * time.Second
	pollInterval       = 200 * time.Millisecond
	sweepSettle        = 500 * time.Millisecond
	sweepTimeout       = 10 * time.Second
	reapTimeout        = 5 * time.Second
	pipeWaitDelay      = 2 * time.Second
	restartPortWait    = 1 * time.Second
	restartPortPoll    = 100 * time.Millisecond

	defaultOutputLines = 1000
)

var (
	// DefaultMatchNames are the process names swept when the sidecar uses DefaultName.
	// Both spellings of the name have been shipped.
	DefaultMatchNames = []string{"flask-backend", "flask_backend"}

	// DefaultDevDirs are searched, in order, when the executable is not installed next to the application.
	DefaultDevDirs = []string{"src-tauri/resources", "dist", "../dist"}
)

// Supervisor owns the single sidecar process.
type Supervisor struct {
	log    *zap.SugaredLogger
	outLog *zap.SugaredLogger

	name       string
	port       int
	healthPath string
	matchNames []string
	devDirs    []string
	env        []string
	exePath    string

	healthClient *http.Client
	output       *Output
	outputLines  int

	mu     sync.Mutex
	handle *handle
}

type Option func(s *Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.log = l.Named("supervisor").Sugar()
	}
}

// WithName sets the sidecar's executable base name.
// Unless WithMatchNames is also given, the sweep then matches only this name.
func WithName(name string) Option {
	return func(s *Supervisor) {
		s.name = name
	}
}

func WithPort(port int) Option {
	return func(s *Supervisor) {
		s.port = port
	}
}

func WithHealthPath(path string) Option {
	return func(s *Supervisor) {
		s.healthPath = path
	}
}

// WithMatchNames sets the process names killed by the cleanup sweep.
func WithMatchNames(names ...string) Option {
	return func(s *Supervisor) {
		s.matchNames = names
	}
}

func WithDevDirs(dirs ...string) Option {
	return func(s *Supervisor) {
		s.devDirs = dirs
	}
}

// WithExecutable skips the Locator and uses path as the sidecar executable.
func WithExecutable(path string) Option {
	return func(s *Supervisor) {
		s.exePath = path
	}
}

// WithEnv adds "KEY=value" entries to the sidecar's inherited environment.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

func WithOutputLines(n int) Option {
	return func(s *Supervisor) {
		s.outputLines = n
	}
}

// New builds a Supervisor and resolves the sidecar executable. It does not start anything.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		log:          zap.NewNop().Sugar(),
		name:         DefaultName,
		port:         DefaultPort,
		healthPath:   DefaultHealthPath,
		devDirs:      DefaultDevDirs,
		healthClient: &http.Client{Timeout: healthCheckTimeout},
		outputLines:  defaultOutputLines,
	}
	for _, o := range opts {
		o(s)
	}
	s.outLog = s.log.Named("sidecar_output")
	s.output = NewOutput(s.outputLines)

	if s.matchNames == nil {
		if s.name == DefaultName {
			s.matchNames = DefaultMatchNames
		} else {
			s.matchNames = []string{s.name}
		}
	}
	if s.exePath == "" {
		s.exePath = Locate(s.name, s.devDirs)
	}
	s.log.Infow("resolved sidecar executable", "Path", s.exePath)
	return s
}

// Status is a point-in-time view of the tracked sidecar.
type Status struct {
	Running    bool
	PID        int
	RunID      string
	StartedAt  time.Time
	Executable string
	Port       int
	HealthURL  string
	// ExitErr is the result of waiting on an exited process; nil while it runs or after a clean exit.
	ExitErr error
}

// IsRunning reports whether a sidecar is tracked and has not exited.
// An exited process stays tracked until Stop.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && !s.handle.exited()
}

func (s *Supervisor) Status() Status {
	st := Status{
		Executable: s.exePath,
		Port:       s.port,
		HealthURL:  s.HealthURL(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.handle; h != nil {
		st.Running = !h.exited()
		if !st.Running {
			st.ExitErr = h.exitErr
		}
		st.PID = h.pid
		st.RunID = h.runID
		st.StartedAt = h.started
	}
	return st
}

func (s *Supervisor) HealthURL() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.healthPath)
}

func (s *Supervisor) Executable() string { return s.exePath }

func (s *Supervisor) Port() int { return s.port }

// Output returns the captured stdout and stderr of every sidecar this Supervisor started.
func (s *Supervisor) Output() *Output { return s.output }

// Close stops the sidecar. It always returns nil.
func (s *Supervisor) Close() error {
	s.Stop()
	return nil
}
