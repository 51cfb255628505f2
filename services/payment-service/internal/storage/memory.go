package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type MemoryRepository struct {
	store    *memstore.Store
	payments *memstore.Table[Payment]
	// order id -> payment id
	byOrder *memstore.Table[string]
}

func NewMemoryRepository(s *memstore.Store) *MemoryRepository {
	return &MemoryRepository{
		store:    s,
		payments: memstore.NewTable[Payment](s),
		byOrder:  memstore.NewTable[string](s),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, p Payment) error {
	return r.store.Write(ctx, func() error {
		if !r.byOrder.Insert(p.OrderID.String(), p.ID.String()) {
			return ErrOrderPaid
		}
		r.payments.Put(p.ID.String(), p)
		return nil
	})
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Payment, error) {
	p, ok := r.payments.Get(id.String())
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) GetByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	id, ok := r.byOrder.Get(orderID.String())
	if !ok {
		return Payment{}, ErrNotFound
	}
	return r.Get(ctx, uuid.MustParse(id))
}

func (r *MemoryRepository) List(context.Context) ([]Payment, error) {
	return r.payments.List(nil), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Write(ctx, func() error {
		p, ok := r.payments.Get(id.String())
		if !ok {
			return ErrNotFound
		}
		r.payments.Delete(id.String())
		r.byOrder.Delete(p.OrderID.String())
		return nil
	})
}
