package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"whatsapp-bridge/internal/logging"
)

var (
	errConnClosed     = errors.New("control connection closed")
	errSendBufferFull = errors.New("control connection send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin filtering happens at the HTTP layer
	},
}

// CommandHandler receives every command frame a control connection sends.
type CommandHandler interface {
	HandleCommand(c *Client, event string, data json.RawMessage)
}

// Client represents one connected control connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	// mu guards closed and the send channel: the relay unicasts from the
	// whatsmeow event goroutine long after the browser may have gone away,
	// so the channel must never be closed while a send can race it.
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// ID returns the connection's identifier.
func (c *Client) ID() string { return c.id }

// SendEvent unicasts an event frame to this connection.
func (c *Client) SendEvent(event string, data any) error {
	payload, err := marshalFrame(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// closeSend marks the connection closed and releases the write pump.
// Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// SendStatus unicasts a status-update with the given severity.
func (c *Client) SendStatus(message, typ string) {
	_ = c.SendEvent(EventStatusUpdate, StatusUpdate{Message: message, Type: typ})
}

// Hub maintains the set of active control connections, broadcasts events to
// all of them and dispatches inbound command frames.
type Hub struct {
	log     *logging.Logger
	handler CommandHandler

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:        log.Sub("ws"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetHandler installs the command dispatcher. Must be called before Run.
func (h *Hub) SetHandler(handler CommandHandler) {
	h.handler = handler
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info().Str("conn", client.id).Msg("control connection registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			h.log.Info().Str("conn", client.id).Msg("control connection unregistered")
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.enqueue(message); err != nil {
					client.closeSend()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event frame to every connected control connection.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := marshalFrame(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast")
		return
	}
	h.broadcast <- payload
}

// ServeWs upgrades an HTTP request to a control connection.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.SendStatus("comando inválido", "error")
			continue
		}
		if f.Event == "" || c.hub.handler == nil {
			continue
		}
		// Commands run off the read loop so a slow handler never blocks
		// the connection.
		go c.hub.handler.HandleCommand(c, f.Event, f.Data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func marshalFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
