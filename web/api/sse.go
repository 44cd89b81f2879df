package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// sseClient is one connected event-stream consumer, optionally scoped
// to a single run.
type sseClient struct {
	runID string // empty means every run
	ch    chan domain.Event
}

// SSEHub fans pipeline events out to connected SSE clients. A client
// subscribes to the whole pipeline or, with a run filter, to one run.
type SSEHub struct {
	clients    map[*sseClient]bool
	broadcast  chan domain.Event
	register   chan *sseClient
	unregister chan *sseClient
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[*sseClient]bool),
		broadcast:  make(chan domain.Event),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
	}
}

// Run starts the SSE hub. The hub goroutine is the only owner of the
// client set.
func (h *SSEHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.ch)
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				if client.runID != "" && client.runID != event.RequestID {
					continue
				}
				select {
				case client.ch <- event:
				default:
					// Slow client: drop it rather than stall the run.
					close(client.ch)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast sends an event to every client whose filter matches it.
func (h *SSEHub) Broadcast(event domain.Event) {
	h.broadcast <- event
}

// sseHandler streams pipeline events. With ?run={id} the stream is
// scoped to that run and opens with a replay of its persisted events,
// so a subscriber that connects late still sees the full history.
func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		runID := r.URL.Query().Get("run")
		if runID != "" {
			replay, err := s.store.ListEvents(runID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			for _, event := range replay {
				writeSSE(w, event)
			}
			flusher.Flush()
		}

		client := &sseClient{runID: runID, ch: make(chan domain.Event, 16)}
		s.sseHub.register <- client

		go func() {
			<-r.Context().Done()
			s.sseHub.unregister <- client
		}()

		for event := range client.ch {
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event domain.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "event: %s\n", event.Kind)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
