package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/models"
)

// Message types pushed to connected scanners
const (
	TypeScanAccepted = "SCAN_ACCEPTED"
	TypeIdentify     = "DEVICE_IDENTIFY"
	TypeAck          = "ACK"
)

// Message is the envelope of every frame on the socket
type Message struct {
	Type     string            `json:"type"`
	DeviceID string            `json:"deviceId,omitempty"`
	MsgID    string            `json:"msgId,omitempty"`
	Status   string            `json:"status,omitempty"`
	Scan     *models.ScanEvent `json:"scan,omitempty"`
	SentAt   time.Time         `json:"sentAt,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients map: connection ID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// Closed once Run returns; register and unregister no longer block
	done chan struct{}

	log logrus.FieldLogger

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		log:        logger.WithField("component", "websocket"),
	}
}

// Run starts the hub's main loop and closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			// If the same connection ID registers again, drop the old socket
			if old, ok := h.clients[client.ID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"conn_id": client.ID, "device_id": client.DeviceID}).Info("📱 Device connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
				h.log.WithFields(logrus.Fields{"conn_id": client.ID, "device_id": client.DeviceID}).Info("📴 Device disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow consumer; it will catch up through polling
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Done is closed when Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// join hands a client to Run. It reports false if the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected sockets
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every connected client. It never blocks;
// a full queue drops the message since devices also poll.
func (h *Hub) Broadcast(msg Message) bool {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("Error marshaling message")
		return false
	}
	select {
	case h.broadcast <- data:
		return true
	default:
		h.log.WithField("type", msg.Type).Warn("⚠️ Broadcast queue full, dropping message")
		return false
	}
}

// ScanAccepted announces a newly confirmed scan. It matches the
// store.ScanStore.OnAccepted hook signature.
func (h *Hub) ScanAccepted(ev models.ScanEvent) {
	h.Broadcast(Message{Type: TypeScanAccepted, DeviceID: ev.OriginDeviceID, Scan: &ev})
}

// SendToDevice sends a message to every socket of a specific device
func (h *Hub) SendToDevice(deviceID string, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("Error marshaling message")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := false
	for _, c := range h.clients {
		if c.DeviceID != deviceID {
			continue
		}
		select {
		case c.send <- data:
			sent = true
		default:
			// Buffer full or client dead
		}
	}
	return sent
}
