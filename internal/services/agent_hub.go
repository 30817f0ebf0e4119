package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Agent event types pushed to agent consoles.
const (
	EventConversationAssigned    = "conversation_assigned"
	EventConversationTransferred = "conversation_transferred"
	EventConversationReleased    = "conversation_released"
	EventHandoffRequested        = "handoff_requested"
)

// AgentEvent is one notification to an agent console.
type AgentEvent struct {
	Type           string      `json:"type"`
	ConversationID uint        `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Notifier delivers agent events. AgentID 0 broadcasts to every connected agent.
type Notifier interface {
	Notify(agentID uint, evt AgentEvent)
}

type hubDelivery struct {
	agentID uint
	event   AgentEvent
}

type agentClient struct {
	id      string
	agentID uint
	conn    *websocket.Conn
	send    chan AgentEvent
	hub     *AgentHub
}

// AgentHub keeps the live websocket connections of agent consoles.
type AgentHub struct {
	clients    map[string]*agentClient
	register   chan *agentClient
	unregister chan *agentClient
	deliver    chan hubDelivery
	mutex      sync.RWMutex
	logger     *logrus.Logger
	onBeat     func(agentID uint)
}

var agentUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewAgentHub creates a hub; call Run to start dispatching.
func NewAgentHub(logger *logrus.Logger) *AgentHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &AgentHub{
		clients:    make(map[string]*agentClient),
		register:   make(chan *agentClient),
		unregister: make(chan *agentClient),
		deliver:    make(chan hubDelivery, 256),
		logger:     logger,
	}
}

// SetHeartbeatHandler is invoked for every heartbeat frame an agent sends.
func (h *AgentHub) SetHeartbeatHandler(fn func(agentID uint)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onBeat = fn
}

// Run dispatches registrations and deliveries until ctx is done.
func (h *AgentHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c.id] = c
			h.mutex.Unlock()
			h.logger.Infof("Agent %d console %s connected", c.agentID, c.id)

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
				h.logger.Infof("Agent %d console %s disconnected", c.agentID, c.id)
			}
			h.mutex.Unlock()

		case d := <-h.deliver:
			h.mutex.Lock()
			for id, c := range h.clients {
				if d.agentID != 0 && c.agentID != d.agentID {
					continue
				}
				select {
				case c.send <- d.event:
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Notify queues evt for agentID without blocking the caller.
func (h *AgentHub) Notify(agentID uint, evt AgentEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case h.deliver <- hubDelivery{agentID: agentID, event: evt}:
	default:
		h.logger.Warnf("agent hub queue full, dropping %s for agent %d", evt.Type, agentID)
	}
}

// ClientCount returns the number of connected consoles.
func (h *AgentHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades /agents/ws?agent_id=N.
func (h *AgentHub) HandleWebSocket(c *gin.Context) {
	agentID, err := strconv.ParseUint(c.Query("agent_id"), 10, 64)
	if err != nil || agentID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "agent_id is required"})
		return
	}
	conn, err := agentUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	client := &agentClient{
		id:      uuid.NewString(),
		agentID: uint(agentID),
		conn:    conn,
		send:    make(chan AgentEvent, 64),
		hub:     h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

type agentFrame struct {
	Type string `json:"type"`
}

func (c *agentClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorf("WebSocket error: %v", err)
			}
			return
		}
		var frame agentFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Type == "heartbeat" {
			c.hub.mutex.RLock()
			beat := c.hub.onBeat
			c.hub.mutex.RUnlock()
			if beat != nil {
				beat(c.agentID)
			}
		}
	}
}

func (c *agentClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				c.hub.logger.Errorf("WriteJSON error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
