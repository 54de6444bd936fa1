package realtime

import (
	"sync"

	"github.com/relaysms/contact-gateway/pkg/logger"
)

// Hub tracks live websocket connections per user plus per-message
// watch subscriptions. Pushes are fire-and-forget: a subscriber whose
// buffer is full loses the event, and delivery never blocks or fails
// the caller.
type Hub struct {
	mu       sync.RWMutex
	conns    map[int64]map[*Conn]struct{}
	watchers map[int64]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:    make(map[int64]map[*Conn]struct{}),
		watchers: make(map[int64]map[*Conn]struct{}),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister drops the connection from the user registry and from
// every message it was watching, pruning empty sets.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	for messageID := range c.watched {
		h.unwatchLocked(c, messageID)
	}
}

// Watch subscribes the connection to status events for one message.
func (h *Hub) Watch(c *Conn, messageID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[messageID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.watchers[messageID] = set
	}
	set[c] = struct{}{}
	c.watched[messageID] = struct{}{}
}

func (h *Hub) Unwatch(c *Conn, messageID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unwatchLocked(c, messageID)
}

func (h *Hub) unwatchLocked(c *Conn, messageID int64) {
	delete(c.watched, messageID)
	if set, ok := h.watchers[messageID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.watchers, messageID)
		}
	}
}

// ToUser pushes an event to every live connection of one user.
func (h *Hub) ToUser(userID int64, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		h.deliver(c, event)
	}
}

// ToMessageWatchers pushes an event to every connection watching the
// message, whichever user it belongs to.
func (h *Hub) ToMessageWatchers(messageID int64, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.watchers[messageID] {
		h.deliver(c, event)
	}
}

// ToAll pushes an event to every live connection.
func (h *Hub) ToAll(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.conns {
		for c := range set {
			h.deliver(c, event)
		}
	}
}

// ConnCount reports live connections for a user.
func (h *Hub) ConnCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) deliver(c *Conn, event Event) {
	select {
	case c.send <- event:
	default:
		logger.Warn("dropping realtime event, subscriber buffer full",
			"user_id", c.userID, "event", event.Type)
	}
}
