package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Hub is the broadcaster (C6): it tracks every live connection and the
// room "groups" each one has been subscribed to, and exposes
// send-to-connection / send-to-group / send-to-group-except primitives.
// Group membership is owned here, not by request handlers, which only
// call AddToGroup/RemoveFromGroup.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client             // connectionId -> client
	groups  map[string]map[string]struct{} // room code -> set of connectionIds

	register   chan *Client
	unregister chan *Client
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub's registration event loop. Intended to run in its
// own goroutine for the lifetime of the process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if existing, ok := h.clients[client.ConnectionID]; ok && existing != client {
				existing.Close()
			}
			h.clients[client.ConnectionID] = client
			h.mu.Unlock()
			logrus.WithField("connection", client.ConnectionID).Debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.clients[client.ConnectionID]; ok && existing == client {
				delete(h.clients, client.ConnectionID)
				for code, members := range h.groups {
					if _, in := members[client.ConnectionID]; in {
						delete(members, client.ConnectionID)
						if len(members) == 0 {
							delete(h.groups, code)
						}
					}
				}
			}
			h.mu.Unlock()
			logrus.WithField("connection", client.ConnectionID).Debug("client unregistered")
		}
	}
}

// Register enqueues a new client for registration.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister enqueues a client for removal.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// GetClient returns the client registered under connectionID, if any.
func (h *Hub) GetClient(connectionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connectionID]
}

// AddToGroup subscribes connectionID to a room's broadcasts (§4.5).
func (h *Hub) AddToGroup(connectionID, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[code]
	if !ok {
		members = make(map[string]struct{})
		h.groups[code] = members
	}
	members[connectionID] = struct{}{}
}

// RemoveFromGroup unsubscribes connectionID from a room's broadcasts.
func (h *Hub) RemoveFromGroup(connectionID, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[code]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.groups, code)
	}
}

// SendToConnection delivers one message to a single connection. Nothing
// propagates to the caller (§7): a full send buffer or a marshal error
// is logged and the message dropped; an unknown or already-closed
// connection is skipped without a log entry.
func (h *Hub) SendToConnection(connectionID string, msgType MessageType, payload interface{}) {
	client := h.GetClient(connectionID)
	if client == nil {
		return
	}
	h.deliver(client, msgType, payload)
}

// SendToGroup delivers one message to every connection subscribed to
// code.
func (h *Hub) SendToGroup(code string, msgType MessageType, payload interface{}) {
	h.SendToGroupExcept(code, "", msgType, payload)
}

// SendToGroupExcept delivers one message to every connection subscribed
// to code other than exceptConnectionID.
func (h *Hub) SendToGroupExcept(code, exceptConnectionID string, msgType MessageType, payload interface{}) {
	h.mu.RLock()
	members := h.groups[code]
	ids := make([]string, 0, len(members))
	for id := range members {
		if id != exceptConnectionID {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.SendToConnection(id, msgType, payload)
	}
}

func (h *Hub) deliver(client *Client, msgType MessageType, payload interface{}) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("failed to marshal outgoing message")
		return
	}
	if err := client.send(env); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"connection": client.ConnectionID,
			"type":       msgType,
		}).Warn("dropped outgoing message")
	}
}

// Client represents one persistent, bidirectional connection (§6
// "one logical connection per browser tab").
type Client struct {
	Hub          *Hub
	Conn         *websocket.Conn
	ConnectionID string
	Send         chan []byte

	// OnDisconnect, if set, is invoked exactly once when ReadPump exits,
	// before the connection is unregistered (§4.11 disconnect hook).
	OnDisconnect func(connectionID string)

	closeMu sync.Mutex
	closed  bool
}

// NewClient wraps conn as a hub-managed client.
func NewClient(hub *Hub, conn *websocket.Conn, connectionID string) *Client {
	return &Client{
		Hub:          hub,
		Conn:         conn,
		ConnectionID: connectionID,
		Send:         make(chan []byte, 256),
	}
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	c.Conn.Close()
}

func (c *Client) send(env *Envelope) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closeMu.Unlock()

	bytes, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	select {
	case c.Send <- bytes:
		return nil
	default:
		return errChannelFull
	}
}

type hubError string

func (e hubError) Error() string { return string(e) }

const errChannelFull hubError = "send channel full"
