package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/session"
)

// ErrUnknownSession is returned by Emit when sid has no open connection.
var ErrUnknownSession = errors.New("no connection for session")

// Dispatcher receives decoded inbound events.
type Dispatcher interface {
	Dispatch(sid, event string, data any) error
}

// Envelope is the JSON frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
}

type client struct {
	sid  string
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
}

func (c *client) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

// Gateway accepts client websockets, assigns each a session id and turns
// frames into named events. It also implements session.Emitter.
type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	clients    map[string]*client
	dispatcher Dispatcher
	closed     bool
	wg         sync.WaitGroup
}

func NewGateway(opts Options) *Gateway {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 16 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Gateway{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Bind sets the event dispatcher. It must be called before serving.
func (g *Gateway) Bind(d Dispatcher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dispatcher = d
}

// Emit sends one named event to sid's connection.
func (g *Gateway) Emit(sid, event string, payload any) error {
	g.mu.RLock()
	c := g.clients[sid]
	g.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sid)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := c.write(websocket.TextMessage, frame, g.opts.WriteTimeout); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Count returns the number of open connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	d, closed := g.dispatcher, g.closed
	g.mu.RUnlock()
	if d == nil || closed {
		http.Error(w, "gateway not accepting connections", http.StatusServiceUnavailable)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("transport: ws upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	c := &client{sid: uuid.NewString(), conn: conn, done: make(chan struct{})}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = conn.Close()
		return
	}
	g.clients[c.sid] = c
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	logging.Infow("transport: client connected", "session_id", c.sid, "remote", r.RemoteAddr)
	if err := d.Dispatch(c.sid, session.EventConnect, nil); err != nil {
		logging.Warnw("transport: connect handler failed", "session_id", c.sid, "err", err)
	}
	if g.opts.PingInterval > 0 {
		go g.keepalive(c)
	}
	g.readLoop(c, d)

	close(c.done)
	g.mu.Lock()
	delete(g.clients, c.sid)
	g.mu.Unlock()
	_ = conn.Close()
	if err := d.Dispatch(c.sid, session.EventDisconnect, nil); err != nil {
		logging.Warnw("transport: disconnect handler failed", "session_id", c.sid, "err", err)
	}
}

func (g *Gateway) readLoop(c *client, d Dispatcher) {
	c.conn.SetReadLimit(g.opts.MaxMessageBytes)
	if g.opts.PingInterval > 0 {
		deadline := 2 * g.opts.PingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logging.Infow("transport: read ended", "session_id", c.sid, "err", err)
			}
			return
		}
		if g.opts.PingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * g.opts.PingInterval))
		}
		event, payload, err := decodeFrame(mt, data)
		if err != nil {
			logging.Warnw("transport: bad frame ignored", "session_id", c.sid, "err", err)
			continue
		}
		if err := d.Dispatch(c.sid, event, payload); err != nil {
			if errors.Is(err, session.ErrUnknownEvent) {
				logging.Infow("transport: unknown event ignored", "session_id", c.sid, "event", event)
				continue
			}
			logging.Warnw("transport: dispatch failed", "session_id", c.sid, "event", event, "err", err)
		}
	}
}

// decodeFrame maps a websocket message to an event name and payload. Binary
// frames are audio; text frames are JSON envelopes whose data is decoded
// into plain Go values.
func decodeFrame(messageType int, data []byte) (string, any, error) {
	if messageType == websocket.BinaryMessage {
		return session.EventAudio, data, nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return "", nil, errors.New("envelope has no event")
	}
	var payload any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return "", nil, fmt.Errorf("decode %s data: %w", env.Event, err)
		}
	}
	return env.Event, payload, nil
}

func (g *Gateway) keepalive(c *client) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, g.opts.WriteTimeout); err != nil {
				logging.Debugw("transport: ping failed", "session_id", c.sid, "err", err)
				return
			}
		}
	}
}

// Close stops accepting connections, closes every open one and waits for
// their disconnect handling to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	open := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		open = append(open, c)
	}
	g.mu.Unlock()

	for _, c := range open {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.write(websocket.CloseMessage, msg, time.Second)
		_ = c.conn.Close()
	}
	g.wg.Wait()
}
