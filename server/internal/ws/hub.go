package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/probewatch/probewatch/server/internal/resume"
	"github.com/probewatch/probewatch/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names.
const (
	EventResume   = "resume"
	EventUpdate   = "update"
	EventComplete = "complete"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Update is the data of an update event.
type Update struct {
	SessionID string              `json:"session_id"`
	Results   []store.ProbeResult `json:"results"`
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Summary   store.Summary       `json:"summary"`
	Revision  uint64              `json:"revision"`
}

// Complete is the data of a complete event.
type Complete struct {
	SessionID   string        `json:"session_id"`
	Summary     store.Summary `json:"summary"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Source is the part of the store the hub reads.
type Source interface {
	Current() (store.View, bool)
	Changes(sessionID string, since uint64) (store.Delta, bool)
}

// Hub manages WebSocket client connections and pushes session changes to
// them every interval.
type Hub struct {
	src    Source
	resume *resume.Service

	interval atomic.Int64 // time.Duration
	reset    chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client is one connected observer. known, session, rev and completed are
// only touched before registration and then by the Run goroutine.
type client struct {
	conn *websocket.Conn
	send chan []byte

	known     bool   // client holds a resume payload
	session   string // session id of that payload, "" for none
	rev       uint64 // store revision the client is current to
	completed string // session id a complete event was sent for

	resync atomic.Bool // client asked for a fresh resume
}

// New creates a Hub that reads from src and pushes every interval.
func New(src Source, interval time.Duration) *Hub {
	h := &Hub{
		src:     src,
		resume:  resume.New(src),
		reset:   make(chan struct{}, 1),
		clients: make(map[*client]struct{}),
	}
	h.interval.Store(int64(interval))
	return h
}

// SetInterval changes the push cadence of a running hub.
func (h *Hub) SetInterval(d time.Duration) {
	if d <= 0 || time.Duration(h.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case h.reset <- struct{}{}:
	default:
	}
}

// Interval returns the current push cadence.
func (h *Hub) Interval() time.Duration {
	return time.Duration(h.interval.Load())
}

// Run starts the push loop. It blocks until ctx is cancelled, then closes all
// active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.Interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.reset:
			t.Reset(h.Interval())
			slog.Info("ws: push interval changed", "interval", h.Interval())
		case <-t.C:
			h.push()
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The current resume payload is queued before the client joins the push loop.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	p := h.resume.Payload()
	if data, err := encode(EventResume, p); err == nil {
		c.send <- data
		c.synced(p)
	}

	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

type deltaKey struct {
	session string
	rev     uint64
}

// push sends every client what it has not seen yet. Clients at the same
// position share one store read per tick.
func (h *Hub) push() {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	type delta struct {
		d  store.Delta
		ok bool
	}
	deltas := make(map[deltaKey]delta)

	var payload *resume.Payload // read at most once per tick
	full := func() resume.Payload {
		if payload == nil {
			p := h.resume.Payload()
			payload = &p
		}
		return *payload
	}

	for _, c := range targets {
		if c.resync.Swap(false) {
			c.known = false
		}

		var msgs [][]byte
		if !c.known {
			p := full()
			msgs = appendMsg(msgs, EventResume, p)
			c.synced(p)
		} else {
			key := deltaKey{c.session, c.rev}
			e, cached := deltas[key]
			if !cached {
				e.d, e.ok = h.src.Changes(c.session, c.rev)
				deltas[key] = e
			}
			d := e.d

			switch {
			case !e.ok:
				// Session cleared since the client last heard.
				if c.session != "" {
					p := resume.Payload{Results: []store.ProbeResult{}}
					msgs = appendMsg(msgs, EventResume, p)
					c.synced(p)
				}

			case d.Full:
				p := full()
				msgs = appendMsg(msgs, EventResume, p)
				c.synced(p)

			case d.Revision > c.rev:
				msgs = appendMsg(msgs, EventUpdate, Update{
					SessionID: d.SessionID,
					Results:   d.Results,
					Total:     d.Total,
					Completed: d.Summary.Completed,
					Summary:   d.Summary,
					Revision:  d.Revision,
				})
				c.rev = d.Revision
			}

			if e.ok && d.Terminal && c.session == d.SessionID && c.completed != d.SessionID {
				cm := Complete{SessionID: d.SessionID, Summary: d.Summary}
				if p := full(); p.SessionID == d.SessionID {
					cm.CompletedAt = p.CompletedAt
				}
				msgs = appendMsg(msgs, EventComplete, cm)
				c.completed = d.SessionID
			}
		}

		for _, m := range msgs {
			if !h.deliver(c, m) {
				break
			}
		}
	}
}

// deliver queues data for c. A client whose buffer is full is disconnected.
func (h *Hub) deliver(c *client, data []byte) bool {
	h.mu.RLock()
	_, present := h.clients[c]
	sent := false
	if present {
		select {
		case c.send <- data:
			sent = true
		default:
		}
	}
	h.mu.RUnlock()

	if present && !sent {
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
	return sent
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// synced records that the client has received p. A client that joins a
// session which is already terminal never gets a separate complete event.
func (c *client) synced(p resume.Payload) {
	c.known = true
	c.session = p.SessionID
	c.rev = p.Revision
	if p.Terminal {
		c.completed = p.SessionID
	}
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

func appendMsg(msgs [][]byte, event string, data interface{}) [][]byte {
	b, err := encode(event, data)
	if err != nil {
		slog.Error("ws: encode message failed", "event", event, "err", err)
		return msgs
	}
	return append(msgs, b)
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and resume requests, and detects
// disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var m struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(data, &m) == nil && m.Event == EventResume {
			c.resync.Store(true)
		}
	}
}
