package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"stock-watchlist-backend/models"

	"github.com/gorilla/websocket"
)

// Hub configuration
const (
	MaxClients    = 100
	WriteTimeout  = 10 * time.Second
	PongTimeout   = 60 * time.Second
	PingInterval  = 30 * time.Second
	SendBufferLen = 64
)

// Message is the envelope for everything pushed to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// envelope pairs a message with its addressee. An empty userID means all
// connected clients.
type envelope struct {
	userID string
	msg    Message
}

// Client is one connected WebSocket subscriber
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans persisted alerts out to connected WebSocket clients. Alerts are
// delivered only to the subscriber they belong to; run completions go to
// everyone.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub creates the alert hub and starts its dispatch loop
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go h.run()
	return h
}

// Shutdown closes every client connection and stops the dispatch loop
func (h *Hub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	log.Println("Alert stream hub shutdown complete")
}

// AlertTriggered pushes a freshly persisted alert to its subscriber.
// Implements the pipeline's notifier contract.
func (h *Hub) AlertTriggered(event *models.AlertEvent) {
	select {
	case h.broadcast <- envelope{userID: event.UserID, msg: Message{
		Type: "alert",
		Data: event,
		Time: time.Now().UTC().Format(time.RFC3339),
	}}:
	default:
		log.Println("Alert stream backlog full, dropping alert broadcast")
	}
}

// BroadcastRunFinished announces a completed ingestion run to all clients
func (h *Hub) BroadcastRunFinished(result interface{}) {
	select {
	case h.broadcast <- envelope{msg: Message{
		Type: "ingestion_run",
		Data: result,
		Time: time.Now().UTC().Format(time.RFC3339),
	}}:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", MaxClients)
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (user %s). Total clients: %d", client.userID, count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", count)

		case env := <-h.broadcast:
			data, err := json.Marshal(env.msg)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			var dead []*Client
			for client := range h.clients {
				if env.userID != "" && client.userID != env.userID {
					continue
				}
				select {
				case client.send <- data:
				default:
					dead = append(dead, client)
				}
			}
			for _, client := range dead {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
// The caller resolves the user identity before handing the request over.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, SendBufferLen),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	// Clients only listen; anything they send besides pongs is discarded
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
	}
}
