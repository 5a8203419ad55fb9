package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/guseggert/sidecar/supervisor"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const DefaultListenAddr = "127.0.0.1:2009"

// Sidecar is the part of *supervisor.Supervisor the control API drives.
type Sidecar interface {
	IsRunning() bool
	Status() supervisor.Status
	HealthCheck(ctx context.Context) (bool, error)
	Restart(ctx context.Context) error
	Stop()
	Output() *supervisor.Output
}

// Server exposes the sidecar's lifecycle commands over loopback HTTP.
type Server struct {
	log        *zap.SugaredLogger
	sidecar    Sidecar
	listenAddr string
	appName    string
	appVersion string

	router     *httprouter.Router
	httpServer *http.Server

	restartMut sync.Mutex
	closeOnce  sync.Once
	closed     chan struct{}
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("control_server").Sugar()
	}
}

// WithAppInfo sets the name and version reported by /api/app-info.
func WithAppInfo(name, version string) Option {
	return func(s *Server) {
		s.appName = name
		s.appVersion = version
	}
}

func NewServer(sidecar Sidecar, opts ...Option) *Server {
	s := &Server{
		log:        zap.NewNop().Sugar(),
		sidecar:    sidecar,
		listenAddr: DefaultListenAddr,
		appName:    "sidecarctl",
		appVersion: "dev",
		closed:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	router := httprouter.New()
	router.GET("/api/app-info", s.appInfo)
	router.GET("/api/status", s.status)
	router.POST("/api/restart", s.restart)
	router.POST("/api/stop", s.stop)
	router.GET("/api/logs", s.logs)
	s.router = router
	s.httpServer = &http.Server{Handler: router}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves the control API and returns once the server has stopped.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.log.Infow("serving control API", "Addr", l.Addr().String())
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the server and ends any open log streams.
func (s *Server) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.httpServer.Close()
	})
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, ErrorResponse{Error: err.Error(), Kind: supervisor.ErrorKind(err)})
}

func (s *Server) appInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, AppInfoResponse{
		Name:           s.appName,
		Version:        s.appVersion,
		SidecarRunning: s.sidecar.IsRunning(),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st := s.sidecar.Status()
	resp := StatusResponse{
		Running:   st.Running,
		Port:      st.Port,
		PID:       st.PID,
		RunID:     st.RunID,
		StartedAt: st.StartedAt,
	}
	if st.Running {
		healthy, err := s.sidecar.HealthCheck(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Healthy = healthy
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.restartMut.Lock()
	defer s.restartMut.Unlock()

	s.log.Info("restart requested")
	// a client hanging up must not leave the sidecar half restarted
	ctx := context.WithoutCancel(r.Context())
	if err := s.sidecar.Restart(ctx); err != nil {
		s.log.Errorw("restart failed", "Kind", supervisor.ErrorKind(err), "Error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "sidecar restarted"})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.restartMut.Lock()
	defer s.restartMut.Unlock()

	s.log.Info("stop requested")
	s.sidecar.Stop()
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "sidecar stopped"})
}

// logs streams captured sidecar output as JSON OutputLine messages: first the retained
// lines after ?since=, then live lines until either side goes away.
func (s *Server) logs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since %q", v), http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("logs WebSocket accept error: %s", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// we never read, but CloseRead notices when the client goes away
	ctx := conn.CloseRead(r.Context())

	backlog, lines, cancel := s.sidecar.Output().SubscribeSince(since)
	defer cancel()

	for _, l := range backlog {
		if err := wsjson.Write(ctx, conn, l); err != nil {
			s.log.Debugw("writing log backlog", "Error", err)
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			conn.Close(websocket.StatusGoingAway, "server stopping")
			return
		case l := <-lines:
			if err := wsjson.Write(ctx, conn, l); err != nil {
				s.log.Debugw("writing log line", "Error", err)
				return
			}
		}
	}
}
