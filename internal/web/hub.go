package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is pushed to every connected browser
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types
const (
	EventFeedUpdated = "feed_updated"
	EventLikeUpdated = "like_updated"
)

// Hub fans events out to websocket clients. Only Run writes to connections.
type Hub struct {
	logger    *slog.Logger
	broadcast chan Event
	joins     chan join

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewHub creates a hub; call Run to start delivering
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger,
		broadcast: make(chan Event, 64),
		joins:     make(chan join),
		clients:   make(map[*websocket.Conn]bool),
	}
}

type join struct {
	conn    *websocket.Conn
	welcome func() Event
	result  chan error
}

// Join registers conn and sends it the event built by welcome. Both happen
// on the Run goroutine, so every event published after the welcome was built
// reaches conn.
func (h *Hub) Join(ctx context.Context, conn *websocket.Conn, welcome func() Event) error {
	j := join{conn: conn, welcome: welcome, result: make(chan error, 1)}
	select {
	case h.joins <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish queues an event. Events are dropped when the queue is full.
func (h *Hub) Publish(e Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn("ws_event_dropped", slog.String("type", e.Type))
	}
}

// Run delivers events until ctx ends, then closes every connection
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return nil
		case j := <-h.joins:
			h.add(j.conn)
			if err := j.conn.WriteJSON(j.welcome()); err != nil {
				h.remove(j.conn)
				j.result <- err
				continue
			}
			j.result <- nil
		case event := <-h.broadcast:
			h.send(event)
		}
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) send(event Event) {
	// snapshot the clients so a disconnect during the loop cannot race the map
	h.mu.RLock()
	clientsSnapshot := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clientsSnapshot = append(clientsSnapshot, client)
	}
	h.mu.RUnlock()

	for _, client := range clientsSnapshot {
		if err := client.WriteJSON(event); err != nil {
			h.remove(client)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
	}
	return len(h.clients)
}

// newUpgrader accepts same-origin and listed origins. Requests without an
// Origin header come from non-browser clients and are accepted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowedMap[origin] {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
}
