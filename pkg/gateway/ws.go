package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/seqline/pkg/server"
)

// wsSink adapts a WebSocket connection to server.Sink.
//
// The writer goroutine writes responses while the read loop may close the
// connection; mu serializes both, and gorilla allows at most one concurrent
// writer anyway.
type wsSink struct {
	id           uint64
	remote       string
	openedAt     time.Time
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func (s *wsSink) ID() uint64 { return s.id }

func (s *wsSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, server.ErrConnClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	s.bytesOut.Add(uint64(len(p)))
	return len(p), nil
}

func (s *wsSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// closeWith sends a close frame and releases the connection.
func (s *wsSink) closeWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	deadline := time.Now().Add(s.writeTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

func (s *wsSink) info() server.ConnInfo {
	return server.ConnInfo{
		ID:         s.id,
		RemoteAddr: s.remote,
		OpenedAt:   s.openedAt,
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
	}
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sink := &wsSink{
		id:           g.backend.NewConnID(),
		remote:       clientAddr(r, g.proxies),
		openedAt:     time.Now(),
		conn:         conn,
		writeTimeout: g.config.WriteTimeout,
	}
	g.track(sink)
	g.logger.Info("websocket connected", "conn_id", sink.id, "remote", sink.remote)
	if g.config.OnConnOpen != nil {
		g.config.OnConnOpen(sink.info())
	}

	reason := g.readLoop(sink)

	g.untrack(sink)
	g.logger.Info("websocket closed", "conn_id", sink.id, "remote", sink.remote, "reason", reason)
	if g.config.OnConnClose != nil {
		g.config.OnConnClose(sink.info())
	}
}

// readLoop feeds inbound messages to the backend until the socket closes.
// It returns the close reason.
func (g *Gateway) readLoop(sink *wsSink) string {
	conn := sink.conn
	conn.SetReadLimit(g.config.MaxMessageSize)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			sink.closeWith(websocket.CloseNormalClosure, "")
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "peer closed"
			}
			if sink.Closed() {
				return "closed"
			}
			return "read error"
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		sink.bytesIn.Add(uint64(len(data)))
		if !g.backend.Ingest(sink, data) {
			sink.closeWith(websocket.CloseNormalClosure, "eot")
			return "eot"
		}
	}
}
