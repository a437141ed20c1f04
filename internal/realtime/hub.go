// Package realtime is the in-process push channel: a registry of live
// websocket connections grouped into named rooms, with fire-and-forget
// targeted emit and broadcast. It is deliberately non-durable; anything that
// must survive a disconnect is persisted by the notification store.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/models"
)

// Room name helpers. Every identity joins its personal and role rooms on
// connect; class/subject rooms are joined on request.
func UserRoom(userID string) string    { return "user:" + userID }
func RoleRoom(role string) string      { return "role:" + role }
func ClassRoom(classID string) string  { return "class:" + classID }
func SubjectRoom(subjID string) string { return "subject:" + subjID }

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub maps room names to sets of live connections. Rooms lock
// independently so activity in one room never blocks another.
type Hub struct {
	logger  *logrus.Logger
	rooms   sync.Map // string -> *room
	clients sync.Map // *Client -> struct{}
}

type room struct {
	mu      sync.RWMutex
	members map[*Client]struct{}
	dead    bool
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{logger: logger}
}

// Register adds a connection to the hub. It must be called exactly once per
// authenticated connection, before any Join.
func (h *Hub) Register(c *Client) {
	h.clients.Store(c, struct{}{})
}

// Join adds the connection to the named room. Joining a room twice is a
// no-op, and a connection that has already disconnected cannot join.
func (h *Hub) Join(c *Client, name string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.rooms[name] = struct{}{}
	c.mu.Unlock()

	for {
		rm := h.getRoom(name)
		rm.mu.Lock()
		if rm.dead {
			// Lost a race with the last leaver; the entry was dropped.
			rm.mu.Unlock()
			continue
		}
		rm.members[c] = struct{}{}
		rm.mu.Unlock()
		return
	}
}

// Leave removes the connection from the named room, dropping the room
// entirely once its last member is gone.
func (h *Hub) Leave(c *Client, name string) {
	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()

	v, ok := h.rooms.Load(name)
	if !ok {
		return
	}
	rm := v.(*room)

	rm.mu.Lock()
	delete(rm.members, c)
	if len(rm.members) == 0 {
		rm.dead = true
		h.rooms.Delete(name)
	}
	rm.mu.Unlock()
}

// Disconnect removes the connection from every room it belongs to and from
// the hub. Safe to call more than once.
func (h *Hub) Disconnect(c *Client) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	names := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		names = append(names, name)
	}
	c.mu.Unlock()

	for _, name := range names {
		h.Leave(c, name)
	}
	h.clients.Delete(c)
	close(c.send)
}

// EmitToRoom delivers an event to every current member of the room.
// Delivery is at-most-once: members whose send buffers are full are skipped,
// and nothing is queued for members who are not connected.
func (h *Hub) EmitToRoom(name, event string, data interface{}) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	v, ok := h.rooms.Load(name)
	if !ok {
		return nil // nobody listening
	}
	rm := v.(*room)

	rm.mu.RLock()
	members := make([]*Client, 0, len(rm.members))
	for c := range rm.members {
		members = append(members, c)
	}
	rm.mu.RUnlock()

	for _, c := range members {
		c.enqueue(payload, h.logger, name)
	}
	return nil
}

// Broadcast delivers an event to every connected client regardless of room.
func (h *Hub) Broadcast(event string, data interface{}) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	h.clients.Range(func(key, _ interface{}) bool {
		key.(*Client).enqueue(payload, h.logger, "*")
		return true
	})
	return nil
}

// RoomSize reports the current number of members in a room.
func (h *Hub) RoomSize(name string) int {
	v, ok := h.rooms.Load(name)
	if !ok {
		return 0
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// InRoom reports whether a connection currently belongs to the named room.
func (h *Hub) InRoom(c *Client, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[name]
	return ok && !c.closed
}

func (h *Hub) getRoom(name string) *room {
	if v, ok := h.rooms.Load(name); ok {
		return v.(*room)
	}
	v, _ := h.rooms.LoadOrStore(name, &room{members: make(map[*Client]struct{})})
	return v.(*room)
}

// User returns the identity bound to the connection at handshake time.
func (c *Client) User() *models.User {
	return c.user
}
