package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/songlab/api/internal/model"
)

// Client represents a WebSocket client subscribed to one song.
type Client struct {
	SongID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub maintains active WebSocket connections grouped by song ID and
// fans song status transitions out to subscribers.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *statusMessage

	mu sync.RWMutex
}

type statusMessage struct {
	Type   string           `json:"type"`
	SongID string           `json:"songId"`
	Status model.SongStatus `json:"status"`
	At     time.Time        `json:"at"`
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *statusMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.SongID] == nil {
				h.clients[client.SongID] = make(map[*Client]bool)
			}
			h.clients[client.SongID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for song %s", client.SongID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SongID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.SongID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Failed to marshal status message: %v", err)
				continue
			}
			h.mu.RLock()
			if clients, ok := h.clients[msg.SongID]; ok {
				for client := range clients {
					select {
					case client.Send <- data:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastStatus sends a song status transition to all subscribers of
// that song. Non-blocking: slow consumers are dropped, never awaited.
func (h *Hub) BroadcastStatus(songID string, status model.SongStatus) {
	msg := &statusMessage{
		Type:   "status",
		SongID: songID,
		Status: status,
		At:     time.Now(),
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("Status broadcast buffer full, dropping update for song %s", songID)
	}
}

// HandleConnection serves one subscriber connection until it closes.
func (h *Hub) HandleConnection(conn *websocket.Conn, songID string) {
	client := &Client{
		SongID: songID,
		Conn:   conn,
		Send:   make(chan []byte, 16),
	}
	h.Register(client)
	go client.WritePump()
	client.ReadPump(h)
}

// WritePump forwards hub messages to the connection until Send closes.
func (c *Client) WritePump() {
	defer c.Conn.Close()
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ReadPump drains the connection so close frames are processed; clients
// only listen on this socket.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
