package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHub streams the events of a single run to its websocket watchers.
// Unlike the SSE stream, a websocket client subscribes to one run.
type WSHub struct {
	watchers map[string]map[*websocket.Conn]bool
	mu       sync.Mutex
}

// NewWSHub creates an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{watchers: make(map[string]map[*websocket.Conn]bool)}
}

// Serve upgrades the connection and attaches it to the run's stream.
// The connection stays open until the client closes it.
func (h *WSHub) Serve(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	if h.watchers[runID] == nil {
		h.watchers[runID] = make(map[*websocket.Conn]bool)
	}
	h.watchers[runID][conn] = true
	h.mu.Unlock()

	// Reader loop exists only to notice the close.
	go func() {
		defer h.drop(runID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish sends one event to every watcher of the run. Write failures
// drop the watcher.
func (h *WSHub) Publish(runID string, event domain.Event) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.watchers[runID]))
	for conn := range h.watchers[runID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			h.drop(runID, conn)
		}
	}
}

func (h *WSHub) drop(runID string, conn *websocket.Conn) {
	h.mu.Lock()
	if watchers, ok := h.watchers[runID]; ok {
		if watchers[conn] {
			delete(watchers, conn)
			conn.Close()
		}
		if len(watchers) == 0 {
			delete(h.watchers, runID)
		}
	}
	h.mu.Unlock()
}
