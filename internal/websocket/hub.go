package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	syncengine "github.com/xelth-com/taskchat-sync/internal/sync"
)

// Event types pushed to clients
const (
	EventSyncReport = "SYNC_REPORT"
	EventAck        = "ACK"
)

// Event is one message broadcast to subscribed clients
type Event struct {
	Type   string                  `json:"type"`
	Scope  string                  `json:"scope,omitempty"`
	Report *syncengine.CycleReport `json:"report,omitempty"`
}

// Hub maintains the set of active clients and broadcasts sync events
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	// closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 64),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop; it returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// If a client reconnects with the same id, close the old connection
			if old, ok := h.clients[client.ID]; ok {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("📱 Client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)

		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) deliver(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if !c.wants(ev.Scope) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Buffer full or client dead
			close(c.send)
			delete(h.clients, id)
		}
	}
}

// Broadcast queues an event for every interested client
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		log.Printf("⚠️ Event queue full, dropping %s for %s", ev.Type, ev.Scope)
	}
}

// ForwardReports broadcasts every cycle report received on reports until
// the channel closes or ctx is done
func (h *Hub) ForwardReports(ctx context.Context, reports <-chan *syncengine.CycleReport) {
	for {
		select {
		case r, ok := <-reports:
			if !ok {
				return
			}
			h.Broadcast(Event{Type: EventSyncReport, Scope: r.Scope.String(), Report: r})
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed once the hub stopped
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
