// internal/notify/hub.go
package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Client is one live websocket session of a user. Out is drained by the
// connection's write pump.
type Client struct {
	UserID int64
	Out    chan map[string]any
}

// Write queues msg without blocking and reports whether it was accepted.
func (c *Client) Write(msg map[string]any) bool {
	select {
	case c.Out <- msg:
		return true
	default:
		return false
	}
}

// Hub tracks live clients per user and implements Notifier over them.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	buffer  int
	log     logrus.FieldLogger
}

// NewHub returns a hub whose clients buffer up to buffer outbound messages.
func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		buffer:  buffer,
		log:     log,
	}
}

// Register adds a client for userID. The returned func removes it again.
func (h *Hub) Register(userID int64) (*Client, func()) {
	c := &Client{UserID: userID, Out: make(chan map[string]any, h.buffer)}
	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithField("user_id", userID).Debug("client registered")

	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[userID], c)
			if len(h.clients[userID]) == 0 {
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			h.log.WithField("user_id", userID).Debug("client unregistered")
		})
	}
}

// Online reports whether userID has at least one live client.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Notify pushes a notification frame to every client of userID. It succeeds if
// at least one client accepted the frame.
func (h *Hub) Notify(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[userID]
	if len(set) == 0 {
		return ErrOffline
	}
	delivered := false
	for c := range set {
		if c.Write(map[string]any{"type": "notification", "text": text}) {
			delivered = true
		}
	}
	if !delivered {
		return ErrBackpressure
	}
	return nil
}
