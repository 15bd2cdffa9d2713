package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/enforcement"
	"github.com/pactguard/pactguard/internal/scoring"
)

// Hub maintains the set of active connections and broadcasts enforcement
// activity to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
	mutex      sync.RWMutex
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	UserID string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	Topics map[string]bool
	closed bool
	mutex  sync.RWMutex
}

// Message represents a real-time message
type Message struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	ClientID  string      `json:"client_id,omitempty"`
}

// MessageType represents different types of real-time messages
type MessageType string

const (
	MessageTypeViolation   MessageType = "violation"
	MessageTypeScore       MessageType = "score"
	MessageTypeEnforcement MessageType = "enforcement"
	MessageTypeHeartbeat   MessageType = "heartbeat"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeError       MessageType = "error"
)

// Broadcast topics
const (
	TopicViolations   = "violations"
	TopicScores       = "scores"
	TopicEnforcements = "enforcements"
)

// SubscriptionRequest represents a subscription request
type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub loop. It returns when the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Debug("Stream client connected", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mutex.Unlock()
			h.logger.Debug("Stream client disconnected", zap.String("client_id", client.ID))
		}
	}
}

// HandleWebSocket upgrades an HTTP request into a streaming connection
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to upgrade connection"})
		return
	}

	userID := c.GetString("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Topics: make(map[string]bool),
	}

	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastToTopic broadcasts a message to all clients subscribed to a topic
func (h *Hub) BroadcastToTopic(topic string, message *Message) error {
	message.Timestamp = time.Now()
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		client.mutex.RLock()
		subscribed := client.Topics[topic]
		client.mutex.RUnlock()

		if subscribed && !client.trySend(data) {
			// Evict clients whose buffer is full rather than blocking
			// the broadcaster on them.
			client.closeSend()
			delete(h.clients, client)
		}
	}

	return nil
}

// SendViolation streams a contract violation to subscribers
func (h *Hub) SendViolation(violation enforcement.ContractViolation) error {
	return h.BroadcastToTopic(TopicViolations, &Message{
		Type:    MessageTypeViolation,
		Topic:   TopicViolations,
		Payload: violation,
	})
}

// SendScore streams a delivery score to subscribers
func (h *Hub) SendScore(score scoring.DeliveryScore) error {
	return h.BroadcastToTopic(TopicScores, &Message{
		Type:    MessageTypeScore,
		Topic:   TopicScores,
		Payload: score,
	})
}

// SendEnforcement streams an enforcement decision to subscribers
func (h *Hub) SendEnforcement(result *enforcement.EnforcementResult) error {
	return h.BroadcastToTopic(TopicEnforcements, &Message{
		Type:    MessageTypeEnforcement,
		Topic:   TopicEnforcements,
		Payload: result,
	})
}

// trySend queues data for the client without blocking. It reports false
// when the client has been closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the client's send channel exactly once. The closed flag
// keeps concurrent writers, such as the subscription ack path, from hitting
// a closed channel.
func (c *Client) closeSend() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug("Stream read error", zap.Error(err))
			}
			break
		}

		var subReq SubscriptionRequest
		if err := json.Unmarshal(message, &subReq); err == nil {
			c.handleSubscription(&subReq)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSubscription handles subscription requests from clients
func (c *Client) handleSubscription(req *SubscriptionRequest) {
	c.mutex.Lock()
	switch req.Type {
	case "subscribe":
		for _, topic := range req.Topics {
			c.Topics[topic] = true
		}
	case "unsubscribe":
		for _, topic := range req.Topics {
			delete(c.Topics, topic)
		}
	}
	c.mutex.Unlock()

	response := &Message{
		Type:      MessageTypeSubscribe,
		Topic:     "system",
		Payload:   fmt.Sprintf("Subscription updated: %s", req.Type),
		Timestamp: time.Now(),
		ClientID:  c.ID,
	}

	data, _ := json.Marshal(response)
	c.trySend(data)
}
