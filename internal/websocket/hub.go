// Package websocket is the subscriber transport: a hub of WebSocket clients
// exchanging JSON envelopes of the form {"type": ..., "data": ...}.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"weatherlive/internal/metrics"
)

// Protocol-level message types handled by the transport itself.
const (
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeError = "error"
)

// Message is the outbound envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Inbound is a request received from a client. Data is left raw for the
// handler to decode.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Message string `json:"message"`
}

// Listener is told about clients joining and leaving.
type Listener interface {
	SubscriberConnected(clientID string)
	SubscriberDisconnected(clientID string)
}

// RequestHandler answers a client request, typically through Hub.Send.
type RequestHandler func(ctx context.Context, clientID string, req Inbound)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients    map[string]*Client
	mu         sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	listener Listener
	handler  RequestHandler
}

// NewHub returns a hub accepting upgrades from allowedOrigins ("*" allows
// any origin). Requests without an Origin header are accepted.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:     logger,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(logger, allowedOrigins),
	}
	return h
}

// SetListener must be called before Run.
func (h *Hub) SetListener(l Listener) {
	h.listener = l
}

// SetRequestHandler must be called before clients connect.
func (h *Hub) SetRequestHandler(fn RequestHandler) {
	h.handler = fn
}

func originChecker(logger *slog.Logger, allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		logger.Warn("websocket connection rejected", "origin", origin)
		return false
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client connected", "client_id", c.id, "total_clients", total)
			if h.listener != nil {
				h.listener.SubscriberConnected(c.id)
			}
		case c := <-h.unregister:
			h.remove(c, "client closed")
		case payload := <-h.broadcast:
			h.broadcastToClients(payload)
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	current, ok := h.clients[c.id]
	if ok && current == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if !ok || current != c {
		return
	}
	h.logger.Info("websocket client disconnected", "client_id", c.id, "reason", reason, "total_clients", total)
	if h.listener != nil {
		h.listener.SubscriberDisconnected(c.id)
	}
}

func (h *Hub) broadcastToClients(payload []byte) {
	var slow []*Client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.MessagesDropped.Inc()
		h.remove(c, "send buffer full")
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	n := len(h.clients)
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	h.logger.Info("websocket hub stopped", "clients_closed", n)
}

// Broadcast queues a message for every connected client. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(messageType string, data any) {
	payload, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		h.logger.Error("marshal broadcast", "type", messageType, "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		metrics.MessagesDropped.Inc()
		h.logger.Warn("broadcast channel full, dropping message", "type", messageType)
	}
}

// Send delivers a message to one client. Unknown clients are ignored and a
// full client buffer drops the message.
func (h *Hub) Send(clientID, messageType string, data any) {
	payload, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		h.logger.Error("marshal message", "type", messageType, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		metrics.MessagesDropped.Inc()
		h.logger.Warn("client send buffer full, dropping message", "client_id", clientID, "type", messageType)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches a new client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	c.start()
}

func (h *Hub) handle(c *Client, req Inbound) {
	switch req.Type {
	case MessageTypePing:
		h.Send(c.id, MessageTypePong, nil)
	default:
		if h.handler == nil {
			h.Send(c.id, MessageTypeError, ErrorData{Message: "unsupported message type: " + req.Type})
			return
		}
		h.handler(c.ctx, c.id, req)
	}
}
