// Package server implements the relay: an authenticated websocket endpoint
// that fans backend events out to connected users and handles the small set
// of client-originated envelopes (group subscriptions, typing, presence).
package server

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/relaychat/relaychat/pkg/protocol"
)

// Hub tracks connected clients and their group subscriptions. One live
// connection per user id; a newer connection replaces the old one.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client            // user id -> client
	groups  map[string]map[string]*Client // group id -> (user id -> client)
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		log:     logger.Named("hub"),
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
	}
}

// Register adds client to the hub, replacing and closing any previous
// connection of the same user. The user's transition to online is broadcast.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	previous := h.clients[client.UserID]
	h.clients[client.UserID] = client
	h.mu.Unlock()

	if previous != nil {
		previous.closeSend()
	} else {
		h.broadcastStatus(client, true)
	}
	h.log.Info("client registered",
		zap.String("user_id", client.UserID),
		zap.String("username", client.Username),
		zap.Int("total", h.ClientCount()))
}

// Unregister removes client. Stale unregisters (after the user reconnected
// and was replaced) are ignored. The user's transition to offline is
// broadcast.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.UserID]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.UserID)
	for groupID, members := range h.groups {
		if members[client.UserID] == client {
			delete(members, client.UserID)
			if len(members) == 0 {
				delete(h.groups, groupID)
			}
		}
	}
	h.mu.Unlock()

	client.closeSend()
	h.broadcastStatus(client, false)
	h.log.Info("client unregistered",
		zap.String("user_id", client.UserID),
		zap.Int("total", h.ClientCount()))
}

// SubscribeGroup routes groupID's events to client.
func (h *Hub) SubscribeGroup(client *Client, groupID string) {
	if groupID == "" {
		return
	}
	h.mu.Lock()
	if h.groups[groupID] == nil {
		h.groups[groupID] = make(map[string]*Client)
	}
	h.groups[groupID][client.UserID] = client
	h.mu.Unlock()

	h.log.Debug("subscribed to group",
		zap.String("user_id", client.UserID),
		zap.String("group_id", groupID))
}

// UnsubscribeGroup stops routing groupID's events to client.
func (h *Hub) UnsubscribeGroup(client *Client, groupID string) {
	h.mu.Lock()
	if members, ok := h.groups[groupID]; ok {
		delete(members, client.UserID)
		if len(members) == 0 {
			delete(h.groups, groupID)
		}
	}
	h.mu.Unlock()
}

// BroadcastToGroup sends one frame to every subscriber of groupID, skipping
// the user ids in except. Clients with a full send buffer are skipped.
func (h *Hub) BroadcastToGroup(groupID string, frame []byte, except ...string) {
	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, client := range h.groups[groupID] {
		if skip[userID] {
			continue
		}
		client.enqueue(frame)
	}
}

// SendToUser sends one frame to userID if connected.
func (h *Hub) SendToUser(userID string, frame []byte) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if ok {
		client.enqueue(frame)
	}
}

// BroadcastAll sends one frame to every connected client except the user ids
// in except.
func (h *Hub) BroadcastAll(frame []byte, except ...string) {
	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, client := range h.clients {
		if skip[userID] {
			continue
		}
		client.enqueue(frame)
	}
}

// OnlineUsers returns every connected user, sorted by username for stable
// output.
func (h *Hub) OnlineUsers() []protocol.UserStatus {
	h.mu.RLock()
	users := make([]protocol.UserStatus, 0, len(h.clients))
	for _, client := range h.clients {
		users = append(users, protocol.UserStatus{
			UserID:   client.UserID,
			Username: client.Username,
			Online:   true,
		})
	}
	h.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

func (h *Hub) broadcastStatus(client *Client, online bool) {
	frame, err := EncodeEvent(protocol.EventUserStatus, protocol.UserStatus{
		UserID:   client.UserID,
		Username: client.Username,
		Online:   online,
	})
	if err != nil {
		return
	}
	h.BroadcastAll(frame, client.UserID)
}

// EncodeEvent wraps data in an outbound envelope with a fresh timestamp and
// serializes it as one frame.
func EncodeEvent(eventType protocol.EventType, data any) ([]byte, error) {
	return json.Marshal(protocol.NewOutgoing(eventType, data))
}
