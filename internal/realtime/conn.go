package realtime

import (
	"time"

	"github.com/fasthttp/websocket"
	"github.com/relaysms/contact-gateway/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Conn wraps one websocket connection bound to an authenticated user.
type Conn struct {
	hub     *Hub
	ws      *websocket.Conn
	userID  int64
	send    chan Event
	done    chan struct{}
	watched map[int64]struct{}
}

func NewConn(hub *Hub, ws *websocket.Conn, userID int64) *Conn {
	return &Conn{
		hub:     hub,
		ws:      ws,
		userID:  userID,
		send:    make(chan Event, sendBuffer),
		done:    make(chan struct{}),
		watched: make(map[int64]struct{}),
	}
}

// command is what subscribers send upstream: watch/unwatch a message.
type command struct {
	Action    string `json:"action"`
	MessageID int64  `json:"message_id"`
}

// Run registers the connection, starts the write pump and blocks on
// the read pump until the peer goes away.
func (c *Conn) Run() {
	c.hub.Register(c)
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	go c.writePump()
	c.readPump()
}

func (c *Conn) readPump() {
	defer close(c.done)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd command
		if err := c.ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}

		switch cmd.Action {
		case "watch":
			if cmd.MessageID > 0 {
				c.hub.Watch(c, cmd.MessageID)
			}
		case "unwatch":
			if cmd.MessageID > 0 {
				c.hub.Unwatch(c, cmd.MessageID)
			}
		default:
			// Unknown commands are ignored, the stream stays up.
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				logger.Debug("websocket write failed", "user_id", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
