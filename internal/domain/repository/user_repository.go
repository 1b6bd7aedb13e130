package repository

import (
	"context"

	"lokapasar/internal/domain/entity"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	UpdateLastSeen(ctx context.Context, id string) error
}
