package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

var (
	ErrNotFound = store.ErrNotFound
	// ErrOrderPaid is returned when the order already has a payment.
	ErrOrderPaid = errors.New("order already has a payment")
)

const StatusProcessed = "Processed"

type Payment struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"orderId"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository interface {
	Create(ctx context.Context, p Payment) error
	Get(ctx context.Context, id uuid.UUID) (Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error)
	List(ctx context.Context) ([]Payment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
