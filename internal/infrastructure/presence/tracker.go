package presence

import (
	"context"
	"sync"
)

// Tracker records which users have live connections and which conversation
// each connection is currently viewing. The delivery protocol reads it to
// decide delivered-vs-read-immediately; the gateway and room handlers are the
// only writers.
//
// The in-memory implementation below is the single-process default. The Redis
// implementation in this package serves multi-process deployments behind the
// same interface.
type Tracker interface {
	// AddConnection registers a connection and reports whether the user was
	// offline beforehand (first device coming online).
	AddConnection(ctx context.Context, userID, connID string) bool

	// RemoveConnection unregisters a connection and reports whether the user is
	// now fully offline (last device gone).
	RemoveConnection(ctx context.Context, userID, connID string) bool

	IsUserOnline(ctx context.Context, userID string) bool

	// JoinRoom marks the connection as actively viewing the conversation.
	JoinRoom(ctx context.Context, conversationID, userID, connID string)
	LeaveRoom(ctx context.Context, conversationID, connID string)

	// LeaveAllRooms prunes every room the connection had joined and returns the
	// affected conversation ids. Used on disconnect (implicit leave).
	LeaveAllRooms(ctx context.Context, connID string) []string

	// RoomMembers returns the distinct user ids currently viewing the
	// conversation.
	RoomMembers(ctx context.Context, conversationID string) []string
	UserInRoom(ctx context.Context, conversationID, userID string) bool
}

type memoryTracker struct {
	mu          sync.RWMutex
	connections map[string]map[string]struct{} // userID -> connIDs
	rooms       map[string]map[string]string   // conversationID -> connID -> userID
	connRooms   map[string]map[string]struct{} // connID -> conversationIDs
}

// NewMemoryTracker returns a process-local Tracker. State is rebuilt from
// scratch on restart; nothing is persisted.
func NewMemoryTracker() Tracker {
	return &memoryTracker{
		connections: make(map[string]map[string]struct{}),
		rooms:       make(map[string]map[string]string),
		connRooms:   make(map[string]map[string]struct{}),
	}
}

func (t *memoryTracker) AddConnection(_ context.Context, userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, ok := t.connections[userID]
	if !ok {
		conns = make(map[string]struct{})
		t.connections[userID] = conns
	}
	wasOffline := len(conns) == 0
	conns[connID] = struct{}{}
	return wasOffline
}

func (t *memoryTracker) RemoveConnection(_ context.Context, userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, ok := t.connections[userID]
	if !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.connections, userID)
		return true
	}
	return false
}

func (t *memoryTracker) IsUserOnline(_ context.Context, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections[userID]) > 0
}

func (t *memoryTracker) JoinRoom(_ context.Context, conversationID, userID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[conversationID]
	if !ok {
		room = make(map[string]string)
		t.rooms[conversationID] = room
	}
	room[connID] = userID

	joined, ok := t.connRooms[connID]
	if !ok {
		joined = make(map[string]struct{})
		t.connRooms[connID] = joined
	}
	joined[conversationID] = struct{}{}
}

func (t *memoryTracker) LeaveRoom(_ context.Context, conversationID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaveRoomLocked(conversationID, connID)
}

func (t *memoryTracker) leaveRoomLocked(conversationID, connID string) {
	if room, ok := t.rooms[conversationID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(t.rooms, conversationID)
		}
	}
	if joined, ok := t.connRooms[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(t.connRooms, connID)
		}
	}
}

func (t *memoryTracker) LeaveAllRooms(_ context.Context, connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var left []string
	for conversationID := range t.connRooms[connID] {
		left = append(left, conversationID)
	}
	for _, conversationID := range left {
		t.leaveRoomLocked(conversationID, connID)
	}
	return left
}

func (t *memoryTracker) RoomMembers(_ context.Context, conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	var members []string
	for _, userID := range t.rooms[conversationID] {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		members = append(members, userID)
	}
	return members
}

func (t *memoryTracker) UserInRoom(_ context.Context, conversationID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, member := range t.rooms[conversationID] {
		if member == userID {
			return true
		}
	}
	return false
}
