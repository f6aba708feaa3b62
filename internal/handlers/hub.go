// internal/handlers/hub.go
package handlers

import (
	"sync"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Membership answers which sockets are currently bound to a room.
type Membership interface {
	GetSessionsInRoom(roomID string) []models.Session
}

// Hub tracks live clients by socket id and fans events out to rooms.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	members Membership
	logger  *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// SetMembership connects the hub to the session registry. The registry itself
// broadcasts through the hub, so the link is made after both exist.
func (h *Hub) SetMembership(m Membership) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members = m
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
}

func (h *Hub) Unregister(socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, socketID)
}

func (h *Hub) Get(socketID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[socketID]
	return c, ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitTo sends one event to one socket, reporting whether it was connected.
func (h *Hub) EmitTo(socketID, event string, payload any) bool {
	c, ok := h.Get(socketID)
	if !ok {
		return false
	}
	c.Emit(event, payload)
	return true
}

// BroadcastToRoom emits event to every socket whose session is bound to roomID.
func (h *Hub) BroadcastToRoom(roomID, event string, payload any) {
	h.mu.RLock()
	members := h.members
	h.mu.RUnlock()
	if members == nil {
		return
	}

	sent := 0
	for _, s := range members.GetSessionsInRoom(roomID) {
		if h.EmitTo(s.SocketID, event, payload) {
			sent++
		}
	}
	h.logger.WithFields(logrus.Fields{
		"room_id":    roomID,
		"event":      event,
		"recipients": sent,
	}).Debug("Broadcast to room")
}

// CloseAll closes every registered client, running their disconnect handling.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close(nil)
	}
}
