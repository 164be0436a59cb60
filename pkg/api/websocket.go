package api

import (
	"log"
	"sync"

	"golang.org/x/net/websocket"
)

// Hub fans broadcast frames out to every connected websocket client.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Handler returns the websocket endpoint handler. Each connection is
// held open until the peer drops; inbound frames are discarded.
func (h *Hub) Handler() websocket.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		h.mu.Lock()
		h.clients[ws] = true
		n := len(h.clients)
		h.mu.Unlock()
		log.Printf("[API] websocket client connected (%d total)", n)

		// Block until the client goes away.
		var discard string
		for {
			if err := websocket.Message.Receive(ws, &discard); err != nil {
				break
			}
		}

		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
		ws.Close()
	})
}

// Broadcast sends one frame to every client; dead clients are pruned.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		if err := websocket.Message.Send(ws, string(data)); err != nil {
			delete(h.clients, ws)
			ws.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll drops every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.clients {
		ws.Close()
		delete(h.clients, ws)
	}
}
