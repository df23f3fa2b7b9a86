package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendQueue    = 64
)

// ErrHubClosed is returned by Register after Close.
var ErrHubClosed = errors.New("hub closed")

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Hub broadcasts events to registered clients. Every client owns a bounded
// queue drained by its own writer goroutine, so Emit never blocks on a slow
// connection; events that do not fit are dropped for that client.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// Client is one registered connection.
type Client struct {
	hub    *Hub
	conn   Conn
	send   chan []byte
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[*Client]struct{})}
}

// Register starts a writer for conn.
func (h *Hub) Register(conn Conn) (*Client, error) {
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	websocketConnections.Inc()
	h.logger.Debug("WebSocket client registered", "clients", n)

	go c.writeLoop()
	return c, nil
}

// Unregister stops the client's writer and waits for it to exit.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.stop()
	<-c.exited
	if ok {
		websocketConnections.Dec()
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Emit encodes ev once and queues it on every client.
func (h *Hub) Emit(ev scan.Event) {
	data, err := Encode(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", ev.Name, "error", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast queues a pre-encoded message on every client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.enqueue(data) {
			eventsDropped.Inc()
		}
	}
}

// Close unregisters every client. Later Register calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

// Send queues a message for this client only. It reports false when the
// queue is full or the client has stopped.
func (c *Client) Send(data []byte) bool {
	return c.enqueue(data)
}

// Done is closed once the client stops writing.
func (c *Client) Done() <-chan struct{} { return c.exited }

func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writeLoop() {
	defer close(c.exited)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug("WebSocket write failed", "error", err)
				c.stop()
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Debug("WebSocket ping failed", "error", err)
				c.stop()
				return
			}
		}
	}
}
