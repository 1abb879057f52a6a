package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"smsrelay/internal/models"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// Event types pushed to stream clients.
const (
	EventLog          = "log"
	EventNotification = "notification"
)

// Event is one message on the stream.
type Event struct {
	Type         string           `json:"type"`
	Entry        *models.LogEntry `json:"entry,omitempty"`
	Notification *Notification    `json:"notification,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Notification is a user-visible alert.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	WorkID  string `json:"workId,omitempty"`
}

// Hub streams audit entries and notifications to connected websocket
// clients. Publishing never blocks: a client whose buffer is full is
// disconnected.
type Hub struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	send      chan []byte
	closeSlow func()
	closeOnce sync.Once
}

// dropSlow disconnects the client once, however many events overflow its
// buffer.
func (c *client) dropSlow() {
	c.closeOnce.Do(func() {
		go c.closeSlow()
	})
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish implements audit.Sink.
func (h *Hub) Publish(entry models.LogEntry) {
	h.broadcast(Event{Type: EventLog, Entry: &entry, Timestamp: entry.Timestamp})
}

// Notify pushes a notification to every client.
func (h *Hub) Notify(n Notification) {
	h.broadcast(Event{Type: EventNotification, Notification: &n, Timestamp: time.Now()})
}

func (h *Hub) broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal stream event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			c.dropSlow()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The server write timeout would otherwise cut the stream.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	c := &client{
		send: make(chan []byte, clientSendBuffer),
		closeSlow: func() {
			_ = conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with events")
		},
	}
	h.add(c)
	defer h.remove(c)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			if err := writeWithTimeout(ctx, conn, msg); err != nil {
				h.logger.WithError(err).Debug("Stream client write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.WithField("clients", n).Debug("Stream client connected")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.WithField("clients", n).Debug("Stream client disconnected")
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
