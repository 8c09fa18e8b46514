package entity

import "time"

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
)

// Message is immutable once written. CreatedAt is assigned by the store.
type Message struct {
	ID             string      `json:"id" firestore:"id"`
	ConversationID string      `json:"conversation_id" firestore:"-"`
	SenderID       string      `json:"sender_id,omitempty" firestore:"senderId,omitempty"`
	SenderName     string      `json:"sender_name,omitempty" firestore:"senderName,omitempty"`
	Text           string      `json:"text,omitempty" firestore:"text,omitempty"`
	ImageURL       string      `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Type           MessageKind `json:"type" firestore:"type"`
	CreatedAt      time.Time   `json:"created_at" firestore:"createdAt,serverTimestamp"`
}

func (m *Message) IsSystem() bool {
	return m.Type == MessageSystem
}
