package usecase

import (
	"encoding/json"
	"time"
)

// Broadcaster is the fan-out surface the usecases need from the realtime hub:
// personal groups (all of one user's devices), conversation rooms, and the
// global presence broadcast. The hub implements it; tests use a recorder.
type Broadcaster interface {
	SendToUser(userID string, payload []byte)
	SendToConnection(userID, connID string, payload []byte)
	SendToConversation(conversationID string, payload []byte, excludeUserID string)
	BroadcastAll(payload []byte, excludeUserID string)

	AddToRoom(conversationID, connID string)
	RemoveFromRoom(conversationID, connID string)
	RemoveFromAllRooms(connID string)
}

// Event wraps data in the wire envelope. Marshal failures cannot happen for
// the payload shapes used here.
func Event(eventType string, data interface{}) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}
