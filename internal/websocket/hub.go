package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a live-sync event delivered to one owner's connections.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage builds a Message whose Type is "<entity>_<action>".
func NewMessage(entity, action, id string, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients per owner. Messages never cross owners.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.ownerID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.ownerID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.ownerID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.ownerID)
	}
}

// Send delivers msg to every connection of ownerID. Slow clients drop
// messages rather than block the sender.
func (h *Hub) Send(ownerID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[ownerID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, dropping message", "owner_id", ownerID, "type", msg.Type)
		}
	}
}

// Notify forwards a notification to the owner's open connections.
func (h *Hub) Notify(_ context.Context, ownerID int64, title, message string) error {
	h.Send(ownerID, NewMessage("notification", "sent", "", map[string]any{
		"title":   title,
		"message": message,
	}))
	return nil
}

// ClientCount returns the number of connections for ownerID.
func (h *Hub) ClientCount(ownerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

// TotalClients returns the number of connections across all owners.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
