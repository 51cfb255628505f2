package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type MemoryRepository struct {
	store         *memstore.Store
	notifications *memstore.Table[Notification]
}

func NewMemoryRepository(s *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: s, notifications: memstore.NewTable[Notification](s)}
}

func (r *MemoryRepository) Create(ctx context.Context, n Notification) error {
	return r.store.Write(ctx, func() error {
		r.notifications.Put(n.ID.String(), n)
		return nil
	})
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Notification, error) {
	n, ok := r.notifications.Get(id.String())
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (r *MemoryRepository) List(context.Context) ([]Notification, error) {
	return r.notifications.List(nil), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Write(ctx, func() error {
		if !r.notifications.Delete(id.String()) {
			return ErrNotFound
		}
		return nil
	})
}
