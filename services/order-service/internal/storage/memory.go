package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type MemoryRepository struct {
	store     *memstore.Store
	orders    *memstore.Table[Order]
	customers *memstore.Table[Customer]
}

func NewMemoryRepository(s *memstore.Store) *MemoryRepository {
	return &MemoryRepository{
		store:     s,
		orders:    memstore.NewTable[Order](s),
		customers: memstore.NewTable[Customer](s),
	}
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, o Order) error {
	return r.store.Write(ctx, func() error {
		r.orders.Put(o.ID.String(), o)
		return nil
	})
}

func (r *MemoryRepository) GetOrder(_ context.Context, id uuid.UUID) (Order, error) {
	o, ok := r.orders.Get(id.String())
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (r *MemoryRepository) ListOrders(context.Context) ([]Order, error) {
	return r.orders.List(nil), nil
}

func (r *MemoryRepository) SetOrderStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.store.Write(ctx, func() error {
		return r.orders.Update(id.String(), func(o *Order) error {
			o.Status = status
			return nil
		})
	})
}

func (r *MemoryRepository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return r.store.Write(ctx, func() error {
		if !r.orders.Delete(id.String()) {
			return ErrNotFound
		}
		return nil
	})
}

func (r *MemoryRepository) UpsertCustomer(ctx context.Context, c Customer) error {
	return r.store.Write(ctx, func() error {
		if existing, ok := r.customers.Get(c.ID.String()); ok {
			c.CreatedAt = existing.CreatedAt
		}
		r.customers.Put(c.ID.String(), c)
		return nil
	})
}

func (r *MemoryRepository) GetCustomer(_ context.Context, id uuid.UUID) (Customer, error) {
	c, ok := r.customers.Get(id.String())
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepository) ListCustomers(context.Context) ([]Customer, error) {
	return r.customers.List(nil), nil
}
