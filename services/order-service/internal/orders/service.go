package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/order-service/internal/storage"
)

var ErrInvalid = errors.New("invalid order")

type NewOrder struct {
	UserID      uuid.UUID
	Product     string
	Quantity    int
	TotalAmount float64
}

func (n NewOrder) validate() error {
	switch {
	case n.UserID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", ErrInvalid)
	case strings.TrimSpace(n.Product) == "":
		return fmt.Errorf("%w: product is required", ErrInvalid)
	case n.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	case n.TotalAmount < 0 || math.IsNaN(n.TotalAmount) || math.IsInf(n.TotalAmount, 0):
		return fmt.Errorf("%w: total amount must be a non-negative number", ErrInvalid)
	}
	return nil
}

type Service struct {
	repo   storage.Repository
	outbox *outbox.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func New(repo storage.Repository, pub *outbox.Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, outbox: pub, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores the order and announces it with OrderCreated.
func (s *Service) Create(ctx context.Context, in NewOrder) (storage.Order, error) {
	if err := in.validate(); err != nil {
		return storage.Order{}, err
	}
	return outbox.Publish(ctx, s.outbox, events.OrderCreatedType,
		func(ctx context.Context) (storage.Order, error) {
			o := storage.Order{
				ID:          uuid.New(),
				UserID:      in.UserID,
				Product:     strings.TrimSpace(in.Product),
				Quantity:    in.Quantity,
				TotalAmount: in.TotalAmount,
				Status:      storage.StatusCreated,
				CreatedAt:   s.now(),
			}
			if err := s.repo.CreateOrder(ctx, o); err != nil {
				return storage.Order{}, fmt.Errorf("create order: %w", err)
			}
			return o, nil
		},
		func(o storage.Order) any {
			return events.OrderCreated{
				Id:          o.ID,
				UserId:      o.UserID,
				Product:     o.Product,
				Quantity:    o.Quantity,
				TotalAmount: o.TotalAmount,
			}
		},
	)
}

// HandleUserCreated keeps the customer projection current.
func (s *Service) HandleUserCreated(ctx context.Context, _ inbox.Event, u events.UserCreated) error {
	if u.Id == uuid.Nil {
		return fmt.Errorf("%w: UserCreated without Id", inbox.ErrMalformed)
	}
	return s.repo.UpsertCustomer(ctx, storage.Customer{ID: u.Id, Name: u.Name, Email: u.Email, CreatedAt: s.now()})
}

// HandlePaymentProcessed marks the paid order. Payments for orders that no
// longer exist are dropped.
func (s *Service) HandlePaymentProcessed(ctx context.Context, _ inbox.Event, p events.PaymentProcessed) error {
	if p.OrderId == uuid.Nil {
		return fmt.Errorf("%w: PaymentProcessed without OrderId", inbox.ErrMalformed)
	}
	err := s.repo.SetOrderStatus(ctx, p.OrderId, storage.StatusPaid)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("payment for unknown order", "order_id", p.OrderId.String(), "payment_id", p.Id.String())
		return nil
	}
	return err
}

func (s *Service) Subscriptions(c *inbox.Consumer) []consumer.Subscription {
	return []consumer.Subscription{
		c.Subscribe(events.UserCreatedQueue, events.UserCreatedType, inbox.JSON(s.HandleUserCreated)),
		c.Subscribe(events.PaymentProcessedQueue, events.PaymentProcessedType, inbox.JSON(s.HandlePaymentProcessed)),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (storage.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]storage.Order, error) {
	return s.repo.ListOrders(ctx)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteOrder(ctx, id)
}

func (s *Service) Customers(ctx context.Context) ([]storage.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) Customer(ctx context.Context, id uuid.UUID) (storage.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}
