// Package bridge exposes the engine to the desktop UI over a loopback
// WebSocket. The UI sends commands and receives both command results and
// the engine's event stream on the same connection. The listener refuses
// to bind anything but a loopback address.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/download"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/errdefs"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/events"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/update"
)

var log = logging.L("bridge")

const (
	writeTimeout = 10 * time.Second
	resultBuffer = 16
)

// Command is one request from the UI.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result answers one Command. Frames with Type "result" carry these;
// everything else on the socket is an engine event.
type Result struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	OK      bool           `json:"ok"`
	Error   *errdefs.Error `json:"error,omitempty"`
	Payload any            `json:"payload,omitempty"`
}

// StatusReport is the get-status payload.
type StatusReport struct {
	Status           string             `json:"status"`
	CurrentVersion   string             `json:"currentVersion"`
	Available        *update.UpdateInfo `json:"available,omitempty"`
	ShowNotification bool               `json:"showNotification"`
	Progress         download.Progress  `json:"progress"`
}

// Server serves the UI bridge on one loopback address.
type Server struct {
	engine         *update.Engine
	bus            *events.Bus
	currentVersion string
	addr           string

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer creates a bridge Server. Start must be called before clients
// can connect.
func NewServer(addr string, engine *update.Engine, bus *events.Bus, currentVersion string) *Server {
	s := &Server{
		engine:         engine,
		bus:            bus,
		currentVersion: currentVersion,
		addr:           addr,
		conns:          make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     allowLoopbackOrigin,
	}
	return s
}

// allowLoopbackOrigin admits requests without an Origin header (native UI
// shells) and browser origins resolving to loopback.
func allowLoopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Start binds the listener and begins serving. The configured address must
// resolve to a loopback interface; the bridge is not a remote API.
func (s *Server) Start() error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("parse bridge address: %w", err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("bridge address %s is not loopback", s.addr)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind bridge listener: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("bridge serve failed", "error", err)
		}
	}()

	log.Info("bridge listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, useful when the port was chosen by the OS.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown closes the listener and every open connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log.Info("ui connected", "remote", conn.RemoteAddr().String())

	evCh, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	results := make(chan Result, resultBuffer)
	done := make(chan struct{})
	defer close(done)

	go s.writeLoop(conn, evCh, results, done)
	s.readLoop(conn, results, done)
}

// readLoop decodes commands and dispatches each on its own goroutine so a
// long-running command (start-update) never blocks the socket.
func (s *Server) readLoop(conn *websocket.Conn, results chan<- Result, done <-chan struct{}) {
	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ui read ended", "error", err)
			}
			return
		}
		go func(cmd Command) {
			res := s.dispatch(cmd)
			select {
			case results <- res:
			case <-done:
			}
		}(cmd)
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, evCh <-chan events.Event, results <-chan Result, done <-chan struct{}) {
	for {
		var frame any
		select {
		case <-done:
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			frame = ev
		case res := <-results:
			frame = res
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			log.Debug("ui write ended", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(cmd Command) Result {
	res := Result{ID: cmd.ID, Type: "result", OK: true}

	switch cmd.Type {
	case "get-status":
		res.Payload = StatusReport{
			Status:           string(s.engine.Status()),
			CurrentVersion:   s.currentVersion,
			Available:        s.engine.Available(),
			ShowNotification: s.engine.ShouldShowNotification(),
			Progress:         s.engine.Progress(),
		}
	case "check-for-updates":
		info, err := s.engine.CheckForUpdates(context.Background())
		if err != nil {
			return s.fail(res, err)
		}
		res.Payload = info
	case "start-update":
		var req struct {
			Version string `json:"version"`
		}
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &req); err != nil {
				return s.fail(res, fmt.Errorf("decode start-update payload: %w", err))
			}
		}
		if err := s.engine.StartUpdate(context.Background(), req.Version); err != nil {
			return s.fail(res, err)
		}
	case "dismiss-update":
		if err := s.engine.DismissUpdate(); err != nil {
			return s.fail(res, err)
		}
	case "cancel-update":
		s.engine.CancelUpdate()
	default:
		return s.fail(res, fmt.Errorf("unknown command type %q", cmd.Type))
	}
	return res
}

func (s *Server) fail(res Result, err error) Result {
	log.Warn("command failed", "id", res.ID, "error", err)
	res.OK = false
	res.Error = errdefs.Classify(err, "the command could not be completed")
	return res
}
