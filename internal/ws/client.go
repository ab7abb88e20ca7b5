package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// InboundHandler processes one client-originated RPC frame.
type InboundHandler func(client *Client, env *Envelope)

// ReadPump pumps inbound frames to handler until the connection closes,
// then runs the disconnect hook and unregisters from the hub.
func (c *Client) ReadPump(handler InboundHandler) {
	defer func() {
		if c.OnDisconnect != nil {
			c.OnDisconnect(c.ConnectionID)
		}
		c.Hub.Unregister(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("connection", c.ConnectionID).Warn("websocket read error")
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logrus.WithError(err).WithField("connection", c.ConnectionID).Warn("malformed inbound frame")
			continue
		}

		handler(c, &env)
	}
}

// WritePump pumps queued outbound frames to the socket and keeps the
// connection alive with periodic pings. Must run in its own goroutine;
// exits when Send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithError(err).WithField("connection", c.ConnectionID).Warn("websocket write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func marshalEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}
