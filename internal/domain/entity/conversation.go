package entity

import (
	"sort"
	"strings"
	"time"
)

// LastMessage is a denormalized snapshot of the most recent message, kept on
// the conversation so list views render without a join.
type LastMessage struct {
	ID          string    `json:"id" firestore:"id"`
	Content     string    `json:"content" firestore:"content"`
	SenderID    string    `json:"sender_id" firestore:"senderId"`
	MessageType string    `json:"message_type" firestore:"messageType"`
	SentDate    time.Time `json:"sent_date" firestore:"sentDate"`
}

type Conversation struct {
	ID           string       `json:"id" firestore:"id"`
	Participants []string     `json:"participants" firestore:"participants"`
	PairKey      string       `json:"-" firestore:"pairKey"`
	ProductID    string       `json:"product_id,omitempty" firestore:"productId,omitempty"`
	LastMessage  *LastMessage `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	UnreadCount  map[string]int `json:"unread_count" firestore:"unreadCount"`
	IsActive     bool         `json:"is_active" firestore:"isActive"`
	CreatedAt    time.Time    `json:"created_at" firestore:"createdAt"`
	UpdatedAt    time.Time    `json:"updated_at" firestore:"updatedAt"`
}

// CanonicalParticipants returns the two participant ids in their stored order.
// Both (a, b) and (b, a) map to the same ordering, which is what enforces one
// conversation per pair.
func CanonicalParticipants(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// PairKeyFor derives the lookup key for a direct conversation between two users.
func PairKeyFor(a, b string) string {
	return strings.Join(CanonicalParticipants(a, b), "|")
}

func (c *Conversation) IsParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant who is not userID. It isolates the
// two-party assumption in one place; group conversations would extend this.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// UnreadFor reads a participant's own unread counter, treating a missing entry
// as zero.
func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}
