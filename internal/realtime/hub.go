package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// EventType for messages pushed to clients
const EventNewMessages = "new_messages"

// NewMessagesEvent is broadcast when the ingestion pipeline persists new mail.
type NewMessagesEvent struct {
	Type         string   `json:"type"`
	AccountEmail string   `json:"accountEmail"`
	MessageIDs   []string `json:"messageIDs"`
	Count        int      `json:"count"`
}

// Hub maintains per-user sets of live connections and fans events out to
// them. Delivery is best effort, at most once: the durable source of truth
// is the persisted message, and a client that misses a broadcast sees the
// message on its next fetch.
type Hub struct {
	// userID -> set of connections; a user may hold several (tabs, devices)
	connections map[string]map[*Client]bool
	mu          sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*Client]bool),
	}
}

// Register adds a client connection for a user
func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connections[userID] == nil {
		h.connections[userID] = make(map[*Client]bool)
	}
	h.connections[userID][client] = true
	client.userID = userID
}

// Unregister removes a client connection and closes its send queue
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	set, ok := h.connections[client.userID]
	if !ok {
		return
	}
	if _, registered := set[client]; !registered {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.connections, client.userID)
	}
	close(client.send)
}

// Broadcast sends the event to every open connection of the user. A
// connection whose send queue is full is treated as dead and reaped; for the
// live ones the per-client queue preserves the order broadcasts were issued.
func (h *Hub) Broadcast(userID string, event NewMessagesEvent) {
	event.Type = EventNewMessages
	event.Count = len(event.MessageIDs)

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Realtime] Failed to marshal event for user %s: %v", userID, err)
		return
	}

	var dead []*Client

	h.mu.RLock()
	for client := range h.connections[userID] {
		select {
		case client.send <- data:
		default:
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	if len(dead) > 0 {
		h.mu.Lock()
		for _, client := range dead {
			h.removeLocked(client)
		}
		h.mu.Unlock()
	}
}

// ConnectionCount returns the number of open connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}
