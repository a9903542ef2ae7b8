package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/iot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/iot-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/iot-bridge/internal/observer"
)

// legacyWSPath is kept for dashboards that still connect to the old endpoint.
const legacyWSPath = "/ws/sensor_data"

// WebSocket defaults applied when the configuration leaves a field at zero.
const (
	defaultWSSendBuffer     = 256
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second
	defaultWSWriteTimeout   = 10 * time.Second
)

// errWriteFailed marks an observer whose connection can no longer be written.
var errWriteFailed = errors.New("websocket: write failed")

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsTimings holds the resolved pump settings for one connection.
type wsTimings struct {
	sendBuffer     int
	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
	writeTimeout   time.Duration
}

func resolveWSTimings(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		sendBuffer:     cfg.SendBuffer,
		maxMessageSize: int64(cfg.MaxMessageSize),
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongWait:       time.Duration(cfg.PongTimeout) * time.Second,
		writeTimeout:   time.Duration(cfg.WriteTimeout) * time.Second,
	}
	if t.sendBuffer <= 0 {
		t.sendBuffer = defaultWSSendBuffer
	}
	if t.maxMessageSize <= 0 {
		t.maxMessageSize = defaultWSMaxMessageSize
	}
	if t.pingInterval <= 0 {
		t.pingInterval = defaultWSPingInterval
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultWSPongTimeout
	}
	if t.writeTimeout <= 0 {
		t.writeTimeout = defaultWSWriteTimeout
	}
	return t
}

// WSObserver is an observer backed by a WebSocket connection.
//
// Send only enqueues; the write pump owns the connection's write side. A
// full buffer or a failed write makes the next Send return an error, which
// removes the observer from the registry.
type WSObserver struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
	failed bool
}

func newWSObserver(conn *websocket.Conn, buffer int, logger *logging.Logger) *WSObserver {
	return &WSObserver{
		id:     "ws-" + uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: logger,
	}
}

// ID returns the observer ID.
func (o *WSObserver) ID() string { return o.id }

// Send enqueues data for the write pump without blocking.
func (o *WSObserver) Send(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return observer.ErrObserverClosed
	}
	if o.failed {
		return errWriteFailed
	}
	select {
	case o.send <- data:
		return nil
	default:
		return observer.ErrObserverSlow
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. Safe to call more than once.
func (o *WSObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.send)
	}
	return nil
}

func (o *WSObserver) markFailed() {
	o.mu.Lock()
	o.failed = true
	o.mu.Unlock()
}

// handleWebSocket upgrades the connection and registers it as an observer.
// Every event broadcast after the upgrade is written to the client as one
// text frame holding the event JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	timings := resolveWSTimings(s.wsCfg)
	obs := newWSObserver(conn, timings.sendBuffer, s.logger)
	s.observers.Connect(obs)
	s.logger.Info("websocket observer connected",
		"observer_id", obs.ID(),
		"remote_addr", r.RemoteAddr,
		"observers", s.observers.Count(),
	)

	go obs.writePump(timings)
	go s.readPump(obs, timings)
}

// readPump discards client frames and keeps the read deadline alive. Any
// read error disconnects the observer.
func (s *Server) readPump(o *WSObserver, t wsTimings) {
	defer func() {
		s.observers.Disconnect(o)
		o.conn.Close()
		s.logger.Info("websocket observer disconnected", "observer_id", o.ID())
	}()

	o.conn.SetReadLimit(t.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	o.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	})

	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				o.logger.Warn("websocket read error", "observer_id", o.ID(), "error", err)
			} else {
				o.logger.Debug("websocket closed", "observer_id", o.ID(), "error", err)
			}
			return
		}
		// Any client frame counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		o.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	}
}

// writePump writes queued payloads and periodic pings.
func (o *WSObserver) writePump(t wsTimings) {
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()

	for {
		select {
		case message, ok := <-o.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				o.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
					time.Now().Add(t.writeTimeout))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			o.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := o.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				o.markFailed()
				o.logger.Debug("websocket write failed", "observer_id", o.ID(), "error", err)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			o.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.markFailed()
				return
			}
		}
	}
}
