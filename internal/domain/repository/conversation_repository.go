package repository

import (
	"context"

	"lokapasar/internal/domain/entity"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)

	// GetByPairKey resolves the single direct conversation for a participant
	// pair, regardless of which ordering the pair was supplied in.
	GetByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error)

	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)
	Update(ctx context.Context, conversation *entity.Conversation) error

	// SetLastMessage replaces the denormalized snapshot (nil clears it) and
	// bumps updatedAt.
	SetLastMessage(ctx context.Context, conversationID string, last *entity.LastMessage) error

	// Counter mutations are individually atomic storage operations, never
	// read-modify-write in application code.
	IncrementUnread(ctx context.Context, conversationID, userID string) error
	DecrementUnread(ctx context.Context, conversationID, userID string) error // floored at 0
	ResetUnread(ctx context.Context, conversationID, userID string) error
}
