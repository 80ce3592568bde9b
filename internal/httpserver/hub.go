package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendQueue      = 16
)

var errClientBufferFull = errors.New("client buffer is full")

// Message is the envelope pushed to websocket subscribers.
type Message struct {
	Type       string                       `json:"type"` // "snapshot" or "error"
	Snapshot   *domain.DistributionSnapshot `json:"snapshot,omitempty"`
	Error      string                       `json:"error,omitempty"`
	LastUpdate int64                        `json:"last_update"`
}

func messageFor(snap *domain.DistributionSnapshot) Message {
	if snap.Failed() {
		return Message{Type: "error", Error: snap.Error, LastUpdate: snap.LastUpdate}
	}
	return Message{Type: "snapshot", Snapshot: snap, LastUpdate: snap.LastUpdate}
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	hub       *hub
}

// hub fans completed snapshots out to every connected subscriber.
type hub struct {
	upgrader websocket.Upgrader
	metrics  *metrics.TrackerMetrics
	log      logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func newHub(m *metrics.TrackerMetrics, log logrus.FieldLogger) *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics: m,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// serve upgrades the request and sends initial, when non-nil, before any
// broadcast.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, initial *domain.DistributionSnapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue), hub: h}
	if initial != nil {
		if data, err := json.Marshal(messageFor(initial)); err == nil {
			c.send <- data
		}
	}
	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.SetWSClients(len(h.clients))
	return true
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetWSClients(len(h.clients))
}

// Broadcast encodes snap once and queues it on every client. Clients
// with a full queue miss the update.
func (h *hub) Broadcast(snap *domain.DistributionSnapshot) {
	data, err := json.Marshal(messageFor(snap))
	if err != nil {
		h.log.WithError(err).Error("failed to encode snapshot for websocket")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.queue(data); err != nil {
			h.log.WithError(err).Debug("dropping websocket update")
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// queue must be called with the hub read lock held so send is not closed
// concurrently.
func (c *client) queue(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errClientBufferFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; subscribers never send data.
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}
