package repository

import (
	"context"

	"lokapasar/internal/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
	Update(ctx context.Context, message *entity.Message) error

	// FindUnreadForReceiver returns every message in the conversation addressed
	// to userID whose status is not yet read.
	FindUnreadForReceiver(ctx context.Context, conversationID, userID string) ([]*entity.Message, error)

	// LatestInConversation returns the most recent remaining message by send
	// time, or nil when the conversation is empty.
	LatestInConversation(ctx context.Context, conversationID string) (*entity.Message, error)

	Delete(ctx context.Context, conversationID, messageID string) error
}
