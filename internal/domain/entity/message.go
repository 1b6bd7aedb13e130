package entity

import (
	"fmt"
	"time"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

type MessageType string

const (
	TypeText    MessageType = "text"
	TypeImage   MessageType = "image"
	TypeCall    MessageType = "call"
	TypeSystem  MessageType = "system"
	TypeProduct MessageType = "product"
)

type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

type Message struct {
	ID             string        `json:"id" firestore:"id"`
	ConversationID string        `json:"conversation_id" firestore:"conversationId"`
	SenderID       string        `json:"sender_id" firestore:"senderId"`
	ReceiverID     string        `json:"receiver_id" firestore:"receiverId"`
	Content        string        `json:"content" firestore:"content"`
	Type           MessageType   `json:"message_type" firestore:"messageType"`
	Status         MessageStatus `json:"status" firestore:"status"`
	IsDelivered    bool          `json:"is_delivered" firestore:"isDelivered"`
	IsRead         bool          `json:"is_read" firestore:"isRead"`
	CallType       CallType      `json:"call_type,omitempty" firestore:"callType,omitempty"`
	CallDuration   int           `json:"call_duration,omitempty" firestore:"callDuration,omitempty"`
	SentDate       time.Time     `json:"sent_date" firestore:"sentDate"`
}

// statusRank orders delivery states. Status only ever moves forward.
var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// CanAdvanceTo reports whether moving from s to next is a valid forward
// transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Advance moves the message to the given status, keeping the derived
// isDelivered/isRead booleans consistent. A no-op if the message is already at
// or past the target, so concurrent delivery/read races settle idempotently.
func (m *Message) Advance(next MessageStatus) error {
	if _, ok := statusRank[next]; !ok {
		return fmt.Errorf("unknown message status %q", next)
	}
	if statusRank[next] <= statusRank[m.Status] {
		return nil
	}
	if !m.Status.CanAdvanceTo(next) {
		return fmt.Errorf("invalid status transition %s -> %s", m.Status, next)
	}
	m.Status = next
	switch next {
	case StatusDelivered:
		m.IsDelivered = true
	case StatusRead:
		m.IsDelivered = true
		m.IsRead = true
	}
	return nil
}

// Preview truncates message content for toast/push notifications.
func (m *Message) Preview(max int) string {
	runes := []rune(m.Content)
	if len(runes) <= max {
		return m.Content
	}
	return string(runes[:max]) + "..."
}

func (m *Message) Snapshot() *LastMessage {
	return &LastMessage{
		ID:          m.ID,
		Content:     m.Content,
		SenderID:    m.SenderID,
		MessageType: string(m.Type),
		SentDate:    m.SentDate,
	}
}
