package realtime

import "encoding/json"

// Envelope is the wire frame for every event in both directions:
// {"type": "...", "data": {...}, "timestamp": "..."}. Inbound frames may omit
// the timestamp; the server stamps everything it emits.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type JoinConversationData struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveConversationData struct {
	ConversationID string `json:"conversation_id"`
}

type SendMessageData struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"message_type,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MarkReadData struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type DeleteMessageData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type CallUserData struct {
	To             string          `json:"to"`
	ConversationID string          `json:"conversation_id"`
	CallType       string          `json:"call_type"`
	Offer          json.RawMessage `json:"offer,omitempty"`
}

type AnswerCallData struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

type RejectCallData struct {
	To string `json:"to"`
}

type EndCallData struct {
	To string `json:"to"`
}

type IceCandidateData struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}
