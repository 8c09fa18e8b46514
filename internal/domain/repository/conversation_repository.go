package repository

import (
	"context"
	"time"

	"rosterchat/internal/domain/entity"
)

// MessageQuery bounds a message read to the newest Limit messages created at or
// after Since. A zero Since means no cutoff.
type MessageQuery struct {
	Since time.Time
	Limit int
}

// ConversationIterator yields the full ordered conversation list each time it changes.
type ConversationIterator interface {
	Next() ([]*entity.Conversation, error)
	Stop()
}

// MessageIterator yields the full visible message window, oldest first, each time it changes.
type MessageIterator interface {
	Next() ([]*entity.Message, error)
	Stop()
}

type ConversationRepository interface {
	// Create stores a new conversation. The id is assigned when empty, and
	// createdAt/lastMessageTime are stamped by the store.
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	Update(ctx context.Context, id string, updates ...FieldUpdate) error
	Delete(ctx context.Context, id string) error

	ListByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error)
	// ListVisibleTo returns the conversations userID sees, newest lastMessageTime first.
	ListVisibleTo(ctx context.Context, userID string) ([]*entity.Conversation, error)

	// CreateMessage appends to the conversation's message sub-collection and
	// sets the server-assigned CreatedAt on message.
	CreateMessage(ctx context.Context, message *entity.Message) error
	ListMessages(ctx context.Context, conversationID string, query MessageQuery) ([]*entity.Message, error)

	WatchVisibleTo(ctx context.Context, userID string) (ConversationIterator, error)
	WatchMessages(ctx context.Context, conversationID string, query MessageQuery) (MessageIterator, error)
}
