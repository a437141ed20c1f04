package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is the ephemeral binding between one live websocket connection and
// one verified identity. It exists from a successful handshake until
// disconnect and is never persisted.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	user   *models.User
	send   chan []byte
	logger *logrus.Logger

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, user *models.User, logger *logrus.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		user:   user,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
		rooms:  make(map[string]struct{}),
	}
}

func (c *Client) enqueue(payload []byte, logger *logrus.Logger, roomName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		// Slow consumer; delivery is at-most-once, so drop.
		logger.WithFields(logrus.Fields{
			"user": c.user.ID,
			"room": roomName,
		}).Warn("Dropping realtime message, send buffer full")
	}
}

// clientMessage is the inbound request envelope. Peers may only ask to join
// class/subject rooms; everything else is ignored.
type clientMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func (c *Client) readPump(authorize RoomAuthorizer) {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithField("user", c.user.ID).Debug("Websocket read failed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.WithError(err).WithField("user", c.user.ID).Debug("Ignoring malformed client message")
			continue
		}

		var roomName string
		switch msg.Event {
		case "join_class":
			roomName = ClassRoom(msg.Data)
		case "join_subject":
			roomName = SubjectRoom(msg.Data)
		default:
			continue
		}

		if msg.Data == "" {
			continue
		}
		if !authorize.CanJoin(c.user, roomName) {
			c.logger.WithFields(logrus.Fields{
				"user": c.user.ID,
				"room": roomName,
			}).Warn("Room join denied")
			continue
		}
		c.hub.Join(c, roomName)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
