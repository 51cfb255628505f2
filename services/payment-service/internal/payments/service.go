package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/payment-service/internal/storage"
)

var ErrInvalid = errors.New("invalid payment")

type Service struct {
	repo   storage.Repository
	outbox *outbox.Publisher
	now    func() time.Time
}

func New(repo storage.Repository, pub *outbox.Publisher) *Service {
	return &Service{repo: repo, outbox: pub, now: func() time.Time { return time.Now().UTC() }}
}

// Process records a processed payment for an order and announces it with
// PaymentProcessed.
func (s *Service) Process(ctx context.Context, orderID uuid.UUID, amount float64) (storage.Payment, error) {
	if orderID == uuid.Nil {
		return storage.Payment{}, fmt.Errorf("%w: order id is required", ErrInvalid)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return storage.Payment{}, fmt.Errorf("%w: amount must be a non-negative number", ErrInvalid)
	}
	return outbox.Publish(ctx, s.outbox, events.PaymentProcessedType,
		func(ctx context.Context) (storage.Payment, error) {
			p := storage.Payment{
				ID:        uuid.New(),
				OrderID:   orderID,
				Amount:    amount,
				Status:    storage.StatusProcessed,
				CreatedAt: s.now(),
			}
			if err := s.repo.Create(ctx, p); err != nil {
				return storage.Payment{}, err
			}
			return p, nil
		},
		func(p storage.Payment) any {
			return events.PaymentProcessed{Id: p.ID, OrderId: p.OrderID, Amount: p.Amount}
		},
	)
}

// HandleOrderCreated charges a new order. An order that already has a payment
// is left alone.
func (s *Service) HandleOrderCreated(ctx context.Context, _ inbox.Event, o events.OrderCreated) error {
	if o.Id == uuid.Nil {
		return fmt.Errorf("%w: OrderCreated without Id", inbox.ErrMalformed)
	}
	if _, err := s.repo.GetByOrder(ctx, o.Id); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	_, err := s.Process(ctx, o.Id, o.TotalAmount)
	return err
}

func (s *Service) Subscriptions(c *inbox.Consumer) []consumer.Subscription {
	return []consumer.Subscription{
		c.Subscribe(events.OrderCreatedQueue, events.OrderCreatedType, inbox.JSON(s.HandleOrderCreated)),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (storage.Payment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]storage.Payment, error) {
	return s.repo.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
