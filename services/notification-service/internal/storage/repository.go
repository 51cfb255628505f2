package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

var ErrNotFound = store.ErrNotFound

type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository interface {
	Create(ctx context.Context, n Notification) error
	Get(ctx context.Context, id uuid.UUID) (Notification, error)
	List(ctx context.Context) ([]Notification, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
