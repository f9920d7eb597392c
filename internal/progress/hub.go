package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tiroq/longscribe/internal/diaglog"
	"github.com/tiroq/longscribe/internal/ipc"
)

// Path is where Serve mounts the hub.
const Path = "/progress"

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Publisher receives every status snapshot a run writes.
type Publisher interface {
	Publish(status *ipc.RunStatus)
}

// Hub broadcasts status snapshots to websocket viewers. A viewer that
// connects mid-run first receives the latest snapshot. Viewers that fall
// behind are disconnected rather than slowing the run down.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	latest  *ipc.RunStatus
	closed  bool

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

type viewer struct {
	conn *websocket.Conn
	send chan *ipc.RunStatus
	once sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.send) })
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// Viewers are local tools and browsers on other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		viewers: make(map[*viewer]struct{}),
	}
}

// SetLogger attaches a diagnostic logger.
func (h *Hub) SetLogger(l *diaglog.Logger) {
	h.loggerMu.Lock()
	defer h.loggerMu.Unlock()
	h.logger = l
}

func (h *Hub) log(event string, payload map[string]interface{}) {
	h.loggerMu.RLock()
	l := h.logger
	h.loggerMu.RUnlock()
	if l != nil {
		l.Log(diaglog.LogEntry{Component: diaglog.ComponentProgress, Event: event, Payload: payload})
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Publish sends status to every viewer.
func (h *Hub) Publish(status *ipc.RunStatus) {
	snapshot := *status
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = &snapshot
	for v := range h.viewers {
		select {
		case v.send <- &snapshot:
		default:
			delete(h.viewers, v)
			v.close()
		}
	}
}

// ServeHTTP upgrades the request and streams snapshots until the viewer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	v := &viewer{conn: conn, send: make(chan *ipc.RunStatus, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.viewers[v] = struct{}{}
	if h.latest != nil {
		v.send <- h.latest
	}
	h.mu.Unlock()

	h.log(diaglog.EventViewerConnect, map[string]interface{}{"remote": r.RemoteAddr})

	go h.readUntilClosed(v)
	h.writeLoop(v)

	h.log(diaglog.EventViewerDisconnect, map[string]interface{}{"remote": r.RemoteAddr})
}

// readUntilClosed drains control frames and drops the viewer on close.
func (h *Hub) readUntilClosed(v *viewer) {
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			h.remove(v)
			return
		}
	}
}

func (h *Hub) writeLoop(v *viewer) {
	defer v.conn.Close()
	for status := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := v.conn.WriteJSON(status); err != nil {
			h.remove(v)
			return
		}
	}
	v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(writeTimeout))
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	delete(h.viewers, v)
	h.mu.Unlock()
	v.close()
}

// Close disconnects every viewer. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for v := range h.viewers {
		delete(h.viewers, v)
		v.close()
	}
}

// Server serves a hub on a TCP address.
type Server struct {
	Hub  *Hub
	http *http.Server
	errc chan error
}

// Serve starts an HTTP server on addr with the hub mounted at Path.
func Serve(addr string, hub *Hub) *Server {
	mux := http.NewServeMux()
	mux.Handle(Path, hub)
	s := &Server{
		Hub:  hub,
		http: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		errc: make(chan error, 1),
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
	return s
}

// Err returns the listen error, if the server failed to start.
func (s *Server) Err() <-chan error { return s.errc }

// Shutdown closes the hub and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("progress server shutdown: %w", err)
	}
	return nil
}

// Follow connects to a hub at url (ws://host:port/progress) and calls fn
// for every snapshot until the run finishes, the server closes the
// connection or ctx is cancelled.
func Follow(ctx context.Context, url string, fn func(*ipc.RunStatus)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var st ipc.RunStatus
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return fmt.Errorf("read progress: %w", err)
		}
		fn(&st)
		if st.Phase.Finished() {
			return nil
		}
	}
}
