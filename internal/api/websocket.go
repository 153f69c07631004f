package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/events"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Clients only send small control messages.
	maxMessageSize = 512

	// Per-client send queue. Slow consumers are dropped once it fills.
	clientQueueSize = 256
)

const (
	messageTypePing = "ping"
	messageTypePong = "pong"
)

// StreamMessage is one frame pushed to WebSocket clients. Type carries the
// platform event kind, or pong for keepalive replies.
type StreamMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect cross-origin. Access control sits in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks WebSocket clients and fans broadcast frames out to them.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewHub creates an empty hub. Run drives it.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logger,
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("total_clients", total).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("total_clients", total).Msg("WebSocket client disconnected")

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer. Drop it rather than stall the stream.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastEvent pushes one platform event to every connected client.
func (h *Hub) BroadcastEvent(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to encode event")
		return
	}
	frame, err := json.Marshal(StreamMessage{
		Type:      string(ev.Kind),
		Timestamp: ev.Timestamp,
		Data:      data,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to encode frame")
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn().Str("kind", string(ev.Kind)).Msg("WebSocket broadcast queue full, frame dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wsClient is one WebSocket connection served by the hub.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, clientQueueSize),
		logger: s.logger,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains inbound frames and keeps the read deadline fresh from
// pongs. It unregisters the client when the connection drops.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump pushes queued frames to the peer and keeps the connection alive
// with protocol pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			// Flush anything already queued into the same frame batch.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// handleMessage honors application-level pings. Everything else is ignored.
func (c *wsClient) handleMessage(raw []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("unparseable WebSocket client message")
		return
	}
	if msg.Type == messageTypePing {
		c.sendPong()
	}
}

func (c *wsClient) sendPong() {
	frame, err := json.Marshal(StreamMessage{
		Type:      messageTypePong,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{}`),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}
