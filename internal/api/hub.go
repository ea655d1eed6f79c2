package api

import (
	"context"
	"sync"

	"streamwatch/internal/monitor"
	"streamwatch/internal/streaming"
)

// Hub maintains the set of active live-feed clients and broadcasts
// normalized events and toast notices to them. Every client receives the
// full feed; filtering happens client side.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages fanned out to every client.
	broadcast chan Message

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run pumps registrations and broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the message rather than
					// stalling the feed for everyone else.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent pushes a normalized event to every connected client.
func (h *Hub) BroadcastEvent(evt streaming.Event) {
	h.broadcast <- Message{Type: TypeEvent, Event: &evt}
}

// BroadcastNotice pushes a toast notice to every connected client.
func (h *Hub) BroadcastNotice(n monitor.Notification) {
	h.broadcast <- Message{Type: TypeNotice, Notice: &n}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}
