// Package websocket serves the live chat protocol: one connection per UI
// session, agent events streamed as they happen.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/application"
	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/pkg/safego"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxInbound = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The HTTP layer already authenticated the request.
	CheckOrigin: func(*http.Request) bool { return true },
}

type inboundMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Session string `json:"session,omitempty"`
}

type outboundMessage struct {
	Type    string            `json:"type"`
	Content string            `json:"content,omitempty"`
	Model   string            `json:"model,omitempty"`
	Tool    *entity.ToolEvent `json:"tool,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Hub tracks live connections and fans events out to them.
type Hub struct {
	app    *application.App
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan outboundMessage
}

func NewHub(app *application.App, logger *zap.Logger) *Hub {
	return &Hub{
		app:     app,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs the pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan outboundMessage, 256)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.app.Monitor.SessionOpened()

	safego.Go(h.logger, "ws-write", c.writePump)
	safego.Go(h.logger, "ws-read", c.readPump)
}

// Shutdown tells every client the server is going away and closes them.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.trySend(outboundMessage{Type: "shutdown"})
		time.AfterFunc(time.Second, func() { c.conn.Close() })
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if present {
		h.app.Monitor.SessionClosed()
	}
	c.conn.Close()
}

func (c *client) readPump() {
	defer c.hub.drop(c)
	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.trySend(outboundMessage{Type: "error", Error: "malformed message"})
			continue
		}
		switch msg.Type {
		case "message":
			if msg.Session == "" {
				msg.Session = "web"
			}
			if !entity.ValidSessionID(msg.Session) {
				c.trySend(outboundMessage{Type: "error", Error: "invalid session id"})
				continue
			}
			session, text := msg.Session, msg.Text
			safego.Go(c.hub.logger, "ws-turn", func() { c.runTurn(session, text) })
		case "abort":
			session := msg.Session
			if session == "" {
				session = "web"
			}
			c.hub.app.AbortTurn(session)
		default:
			c.trySend(outboundMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

func (c *client) runTurn(session, text string) {
	c.hub.app.Monitor.Request("ws")
	_, err := c.hub.app.ChatStream(context.Background(), session, text, func(ev entity.AgentEvent) {
		switch ev.Type {
		case entity.EventTextDelta:
			c.trySend(outboundMessage{Type: "chunk", Content: ev.Content})
		case entity.EventThinking:
			c.trySend(outboundMessage{Type: "thinking", Content: ev.Content})
		case entity.EventToolCall:
			c.trySend(outboundMessage{Type: "tool", Tool: ev.Tool})
		case entity.EventDone:
			c.trySend(outboundMessage{Type: "done", Content: ev.Content, Model: ev.Model})
		case entity.EventError:
			c.trySend(outboundMessage{Type: "error", Error: ev.Error})
		}
	})
	if err != nil {
		c.trySend(outboundMessage{Type: "error", Error: err.Error()})
	}
}

// trySend never blocks; a client that cannot keep up loses events, not the
// turn.
func (c *client) trySend(msg outboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.drop(c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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
