package repository

import (
	"context"

	"rosterchat/internal/domain/entity"
)

// DirectoryIterator yields the whole user collection keyed by id on every change.
type DirectoryIterator interface {
	Next() (map[string]*entity.User, error)
	Stop()
}

// DirectoryRepository resolves users. Email normalization is the directory's concern.
type DirectoryRepository interface {
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	Watch(ctx context.Context) (DirectoryIterator, error)
}
