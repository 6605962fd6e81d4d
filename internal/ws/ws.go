package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/models"
)

const (
	EventMessage = "message"
	EventRead    = "read"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Event is what connected clients receive.
type Event struct {
	Type           string          `json:"type"`
	ConversationID int             `json:"conversation_id"`
	Message        *models.Message `json:"message,omitempty"`
	ReaderID       int             `json:"reader_id,omitempty"`
	Count          int64           `json:"count,omitempty"`
}

type delivery struct {
	userIDs []int
	event   *Event
}

// Hub keeps one live connection per user; a newer connection replaces the
// older one.
type Hub struct {
	clients    map[int]*Client
	deliver    chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        logrus.FieldLogger
	mu         sync.RWMutex
}

type Client struct {
	userID int
	conn   *websocket.Conn
	hub    *Hub
	send   chan *Event
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[int]*Client),
		deliver:    make(chan delivery, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.WithField("component", "ws"),
	}
}

func (h *Hub) IsUserOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// NotifyMessage sends a new message to the recipient and echoes it to the
// sender's other tabs.
func (h *Hub) NotifyMessage(recipientID, senderID int, msg *models.Message) {
	h.enqueue(delivery{
		userIDs: []int{recipientID, senderID},
		event:   &Event{Type: EventMessage, ConversationID: msg.ConversationID, Message: msg},
	})
}

// NotifyRead tells the counterpart that readerID has read count of their
// messages.
func (h *Hub) NotifyRead(conversationID, readerID, counterpartID int, count int64) {
	if count <= 0 {
		return
	}
	h.enqueue(delivery{
		userIDs: []int{counterpartID},
		event:   &Event{Type: EventRead, ConversationID: conversationID, ReaderID: readerID, Count: count},
	})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliver <- d:
	default:
		h.log.WithField("type", d.event.Type).Warn("delivery queue full, dropping event")
	}
}

// Run owns the client map until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"user_id": client.userID, "total": total}).Info("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"user_id": client.userID, "total": total}).Info("client disconnected")

		case d := <-h.deliver:
			h.dispatch(d)
		}
	}
}

func (h *Hub) dispatch(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[int]bool, len(d.userIDs))
	for _, id := range d.userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		client, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case client.send <- d.event:
		default:
			h.log.WithField("user_id", id).Warn("send buffer full")
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Serve upgrades the request for an already authenticated user.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		userID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan *Event, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.readPump()
	go client.writePump()
	return nil
}

// readPump only keeps the connection alive; clients send over HTTP.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("user_id", c.userID).Warn("websocket read failed")
			}
			return
		}
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
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				c.hub.log.WithError(err).Error("failed to encode event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
