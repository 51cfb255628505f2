package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type MemoryRepository struct {
	store *memstore.Store
	users *memstore.Table[User]
	// lower-cased email -> user id
	emails *memstore.Table[string]
}

func NewMemoryRepository(s *memstore.Store) *MemoryRepository {
	return &MemoryRepository{
		store:  s,
		users:  memstore.NewTable[User](s),
		emails: memstore.NewTable[string](s),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, u User) error {
	return r.store.Write(ctx, func() error {
		if !r.emails.Insert(strings.ToLower(u.Email), u.ID.String()) {
			return ErrEmailTaken
		}
		r.users.Put(u.ID.String(), u)
		return nil
	})
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (User, error) {
	u, ok := r.users.Get(id.String())
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) List(context.Context) ([]User, error) {
	return r.users.List(nil), nil
}

func (r *MemoryRepository) MarkWelcomed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.store.Write(ctx, func() error {
		return r.users.Update(id.String(), func(u *User) error {
			if u.WelcomedAt == nil {
				u.WelcomedAt = &at
			}
			return nil
		})
	})
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Write(ctx, func() error {
		u, ok := r.users.Get(id.String())
		if !ok {
			return ErrNotFound
		}
		r.users.Delete(id.String())
		r.emails.Delete(strings.ToLower(u.Email))
		return nil
	})
}
