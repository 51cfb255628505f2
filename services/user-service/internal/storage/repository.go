package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

var (
	ErrNotFound   = store.ErrNotFound
	ErrEmailTaken = errors.New("email already registered")
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	// WelcomedAt is set once the welcome notification went out.
	WelcomedAt *time.Time `json:"welcomedAt,omitempty"`
}

type Repository interface {
	Create(ctx context.Context, u User) error
	Get(ctx context.Context, id uuid.UUID) (User, error)
	List(ctx context.Context) ([]User, error)
	MarkWelcomed(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}
