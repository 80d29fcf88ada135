package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/controller"
	"github.com/nvr-ai/go-inspect/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 8
)

// Message types exchanged over /ws.
const (
	MessageSnapshot   = "snapshot"
	MessageError      = "error"
	MessageThresholds = "thresholds"
	MessageCapture    = "capture"
	MessageReset      = "reset"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type       string               `json:"type"`
	Snapshot   *controller.Snapshot `json:"snapshot,omitempty"`
	Error      string               `json:"error,omitempty"`
	Confidence *float32             `json:"confidence,omitempty"`
	Overlap    *float32             `json:"overlap,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans orchestrator snapshots out to connected websocket clients. Slow
// clients are dropped rather than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	logger  *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  log,
	}
}

// Publish sends the snapshot to every client.
func (h *Hub) Publish(snap controller.Snapshot) {
	data, err := json.Marshal(Message{Type: MessageSnapshot, Snapshot: &snap})
	if err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("websocket client connected", "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", len(h.clients))
	}
}

// reply queues a message for a single client.
func (h *Hub) reply(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the client's queue onto the connection and keeps it alive
// with pings. It owns all writes and closes the connection when the queue is
// closed.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.register(cl) {
		_ = conn.Close()
		return
	}
	go cl.writePump()

	snap := s.inspector.Snapshot()
	s.hub.reply(cl, Message{Type: MessageSnapshot, Snapshot: &snap})

	s.readPump(c.Request.Context(), cl)
}

// readPump applies client commands until the connection fails.
func (s *Server) readPump(ctx context.Context, cl *client) {
	defer s.hub.unregister(cl)

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		switch msg.Type {
		case MessageCapture, MessageReset:
			// Provider calls can outlast pongWait, so keep reading meanwhile.
			go s.dispatch(ctx, cl, msg)
		default:
			s.dispatch(ctx, cl, msg)
		}
	}
}

// dispatch applies msg and reports a failure to the sending client only.
func (s *Server) dispatch(ctx context.Context, cl *client, msg Message) {
	if err := s.apply(ctx, msg); err != nil {
		s.hub.reply(cl, Message{Type: MessageError, Error: err.Error()})
	}
}

func (s *Server) apply(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageThresholds:
		t := s.inspector.Snapshot().Thresholds
		if msg.Confidence != nil {
			t.Confidence = *msg.Confidence
		}
		if msg.Overlap != nil {
			t.Overlap = *msg.Overlap
		}
		return s.inspector.SetThresholds(t)
	case MessageCapture:
		return s.inspector.Capture(ctx)
	case MessageReset:
		return s.inspector.Reset(ctx)
	default:
		return errors.Errorf("unknown message type %q", msg.Type)
	}
}
