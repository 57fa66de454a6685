package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
	"vodstream/searchservice/internal/search"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsInbound is what clients may send: {"type":"search","query":"..."},
// {"type":"cancel"} or {"type":"ping"}.
type wsInbound struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type wsSearchEvent struct {
	Generation uint64 `json:"generation"`
	domain.StreamEvent
}

type wsClient struct {
	id      string
	hub     *wsHub
	conn    *websocket.Conn
	send    chan []byte
	session *search.Session
}

type wsDirect struct {
	client  *wsClient
	payload []byte
}

type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	direct     chan wsDirect
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan wsDirect, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				if client.conn != nil {
					_ = client.conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(2*time.Second),
					)
				}
				h.drop(client)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			metrics.WebsocketClients.Inc()
			h.logger.Debug("ws client connected", slog.String("clientId", client.id), slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("ws client disconnected", slog.String("clientId", client.id), slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					h.drop(client)
				}
			}
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; !ok {
				continue
			}
			select {
			case msg.client.send <- msg.payload:
			default:
				h.drop(msg.client)
			}
		}
	}
}

// drop must only be called from run.
func (h *wsHub) drop(client *wsClient) {
	delete(h.clients, client)
	close(client.send)
	h.count.Add(-1)
	metrics.WebsocketClients.Dec()
}

// Close signals the hub to stop and disconnect all clients.
func (h *wsHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

// Broadcast sends a typed JSON message to all connected WebSocket clients.
func (h *wsHub) Broadcast(msgType string, data any) {
	if h.clientCount() == 0 {
		return
	}
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// Broadcast channel full, skip this update.
	}
}

// sendTo queues a message for one client. It reports false once the hub has
// stopped.
func (h *wsHub) sendTo(client *wsClient, msgType string, data any) bool {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return true
	}
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.direct <- wsDirect{client: client, payload: payload}:
		return true
	case <-h.done:
		return false
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		id:      uuid.NewString(),
		hub:     s.wsHub,
		conn:    conn,
		send:    make(chan []byte, 256),
		session: search.NewSession(),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump(s.handleWSMessage)
}

func (s *Server) handleWSMessage(client *wsClient, data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		client.hub.sendTo(client, "error", map[string]string{"message": "invalid message"})
		return
	}
	switch msg.Type {
	case "search":
		query := strings.TrimSpace(msg.Query)
		if s.search == nil || query == "" || len(query) > maxQueryLength {
			client.hub.sendTo(client, "error", map[string]string{"message": "invalid search"})
			return
		}
		ctx, gen := client.session.Begin(s.baseCtx, query)
		go s.forwardSearch(ctx, client, query, gen)
	case "cancel":
		client.session.Close()
	case "ping":
		client.hub.sendTo(client, "pong", nil)
	default:
		client.hub.sendTo(client, "error", map[string]string{"message": "unknown message type"})
	}
}

// forwardSearch relays one search to the client. Events belonging to a search
// the client has since replaced are dropped by the session.
func (s *Server) forwardSearch(ctx context.Context, client *wsClient, query string, gen uint64) {
	for ev := range s.search.SearchStream(ctx, query) {
		if err := client.session.Apply(ev); err != nil {
			continue
		}
		if !client.hub.sendTo(client, "search", wsSearchEvent{Generation: gen, StreamEvent: ev}) {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(handle func(*wsClient, []byte)) {
	defer func() {
		c.session.Close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		handle(c, data)
	}
}
