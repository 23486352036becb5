// Package live streams pipeline events (ingest, scored, action) to
// connected WebSocket clients so a dashboard can follow cases in real time.
// Delivery is best-effort: slow clients are dropped, and the pipeline never
// blocks on the feed.
package live

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soarkit/backend/internal/models"
)

// Event is the frame sent to clients.
type Event struct {
	Type string          `json:"type"`
	TS   time.Time       `json:"ts"`
	Data models.Document `json:"data"`
}

// Hub fans events out to all connected clients.
type Hub struct {
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub builds a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run owns the client set until Close is called.
func (h *Hub) Run() {
	defer close(h.done)
	clients := make(map[*websocket.Conn]bool)

	for {
		select {
		case conn := <-h.register:
			clients[conn] = true
			h.logger.Debug("live client connected", "clients", len(clients))

		case conn := <-h.unregister:
			if clients[conn] {
				delete(clients, conn)
				conn.Close()
			}

		case ev := <-h.broadcast:
			for conn := range clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					delete(clients, conn)
					conn.Close()
				}
			}

		case <-h.quit:
			for conn := range clients {
				conn.Close()
			}
			return
		}
	}
}

// Publish queues an event for broadcast, dropping it when the buffer is
// full or the hub is stopped.
func (h *Hub) Publish(event string, data models.Document) {
	h.Forward(Event{Type: event, TS: time.Now().UTC(), Data: data})
}

// Forward queues an already-built event, preserving its timestamp. Used by
// the relay so events keep the time they happened in the worker.
func (h *Hub) Forward(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	default:
		h.logger.Debug("live feed full, dropping event", "type", ev.Type)
	}
}

// ServeHTTP upgrades the request and holds the connection until the client
// goes away. Clients only receive; inbound frames are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Close disconnects all clients and stops the run loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
	<-h.done
}
