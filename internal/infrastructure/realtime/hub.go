package realtime

import (
	"sync"

	"lokapasar/pkg/logger"
)

// Hub owns the process-local broadcast groups: one personal group per user
// (all their connections) and one room per conversation currently being
// viewed. It implements the usecase layer's Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Client            // connID -> client
	users map[string]map[string]*Client // userID -> connID -> client
	rooms map[string]map[string]*Client // conversationID -> connID -> client
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Client),
		users: make(map[string]map[string]*Client),
		rooms: make(map[string]map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[client.ConnID] = client
	group, ok := h.users[client.UserID]
	if !ok {
		group = make(map[string]*Client)
		h.users[client.UserID] = group
	}
	group[client.ConnID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[client.ConnID]; !ok {
		return
	}
	delete(h.conns, client.ConnID)

	if group, ok := h.users[client.UserID]; ok {
		delete(group, client.ConnID)
		if len(group) == 0 {
			delete(h.users, client.UserID)
		}
	}
	for conversationID := range h.rooms {
		h.removeFromRoomLocked(conversationID, client.ConnID)
	}
	close(client.Send)
}

// SendToUser fans out to every connection in the user's personal group.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.users[userID] {
		h.trySend(client, payload)
	}
}

// SendToConnection targets one specific device, e.g. the catch-up push.
func (h *Hub) SendToConnection(userID, connID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.conns[connID]; ok && client.UserID == userID {
		h.trySend(client, payload)
	}
}

// SendToConversation emits to every connection in the room except those
// belonging to excludeUserID (typically the sender, whose devices already
// have the message optimistically).
func (h *Hub) SendToConversation(conversationID string, payload []byte, excludeUserID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[conversationID] {
		if excludeUserID != "" && client.UserID == excludeUserID {
			continue
		}
		h.trySend(client, payload)
	}
}

// BroadcastAll sends to every connected client except excludeUserID's own
// connections. This is the global presence broadcast; it is O(connections)
// and the one place to scope presence if that ceiling is ever hit.
func (h *Hub) BroadcastAll(payload []byte, excludeUserID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.conns {
		if excludeUserID != "" && client.UserID == excludeUserID {
			continue
		}
		h.trySend(client, payload)
	}
}

func (h *Hub) AddToRoom(conversationID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.conns[connID]
	if !ok {
		return
	}
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[conversationID] = room
	}
	room[connID] = client
}

func (h *Hub) RemoveFromRoom(conversationID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(conversationID, connID)
}

func (h *Hub) RemoveFromAllRooms(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conversationID := range h.rooms {
		h.removeFromRoomLocked(conversationID, connID)
	}
}

func (h *Hub) removeFromRoomLocked(conversationID, connID string) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// trySend drops the payload rather than blocking when a client's buffer is
// full; real-time notification is best-effort and the data model is the
// source of truth. Callers hold at least the read lock.
func (h *Hub) trySend(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		logger.Warn("realtime: send buffer full for %s, dropping event", client.UserID)
	}
}
