package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/platform/platformtest"
	"github.com/md-rashed-zaman/eventrelay/services/payment-service/internal/storage"
)

func TestOrderCreatedProcessesPayment(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	repo := storage.NewMemoryRepository(env.Store)
	env.Run(t, New(repo, env.Outbox).Subscriptions(env.Inbox)...)

	order := events.OrderCreated{Id: uuid.New(), UserId: uuid.New(), Product: "Book", Quantity: 1, TotalAmount: 42.50}
	env.Deliver(t, events.OrderCreatedQueue, uuid.NewString(), events.OrderCreatedType, order)

	platformtest.WaitFor(t, "PaymentProcessed", func() bool {
		return env.Broker.Depth(events.PaymentProcessedQueue) == 1
	})
	p, err := repo.GetByOrder(context.Background(), order.Id)
	if err != nil {
		t.Fatalf("payment not stored: %v", err)
	}
	if p.Amount != 42.50 || p.Status != "Processed" {
		t.Fatalf("unexpected payment %+v", p)
	}
	got := platformtest.Published[events.PaymentProcessed](t, env, events.PaymentProcessedQueue)
	if got[0].Id != p.ID || got[0].OrderId != order.Id || got[0].Amount != 42.50 {
		t.Fatalf("unexpected event %+v", got[0])
	}
	rows := env.OutboxRepo.All()
	msg := env.Broker.Messages(events.PaymentProcessedQueue)[0]
	if msg.ContentType != broker.ContentTypeJSON || !msg.Persistent || msg.Type != events.PaymentProcessedType || msg.MessageID != rows[0].ID.String() {
		t.Fatalf("unexpected message properties %+v", msg)
	}
}

func TestSecondOrderCreatedForSameOrderIsIgnored(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	repo := storage.NewMemoryRepository(env.Store)
	env.Run(t, New(repo, env.Outbox).Subscriptions(env.Inbox)...)

	order := events.OrderCreated{Id: uuid.New(), TotalAmount: 10}
	// two distinct events about the same order
	env.Deliver(t, events.OrderCreatedQueue, uuid.NewString(), events.OrderCreatedType, order)
	env.Deliver(t, events.OrderCreatedQueue, uuid.NewString(), events.OrderCreatedType, order)
	sentinel := events.OrderCreated{Id: uuid.New(), TotalAmount: 1}
	env.Deliver(t, events.OrderCreatedQueue, uuid.NewString(), events.OrderCreatedType, sentinel)

	platformtest.WaitFor(t, "sentinel payment", func() bool {
		_, err := repo.GetByOrder(context.Background(), sentinel.Id)
		return err == nil
	})
	list, _ := repo.List(context.Background())
	if len(list) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(list))
	}
	if n := len(env.InboxRepo.All()); n != 3 {
		t.Fatalf("expected every event recorded, got %d", n)
	}
}

func TestMalformedOrderIsDeadLettered(t *testing.T) {
	env := platformtest.New(2)
	repo := storage.NewMemoryRepository(env.Store)
	env.Run(t, New(repo, env.Outbox).Subscriptions(env.Inbox)...)

	env.Broker.Inject(events.OrderCreatedQueue, broker.NewJSONPublishing(uuid.NewString(), events.OrderCreatedType, []byte(`{"Id":"not-a-uuid"}`)))

	dlq := broker.DeadLetterQueue(events.OrderCreatedQueue)
	platformtest.WaitFor(t, "dead letter", func() bool { return env.Broker.Depth(dlq) == 1 })
	if n := env.Broker.Deliveries(events.OrderCreatedQueue); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
	if msg := env.Broker.Messages(dlq)[0]; msg.Headers[inbox.HeaderDeathQueue] != events.OrderCreatedQueue {
		t.Fatalf("missing failure headers: %+v", msg.Headers)
	}
	if list, _ := repo.List(context.Background()); len(list) != 0 {
		t.Fatalf("malformed order must not create a payment")
	}
}

func TestProcessValidates(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	svc := New(storage.NewMemoryRepository(env.Store), env.Outbox)
	if _, err := svc.Process(context.Background(), uuid.Nil, 1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := svc.Process(context.Background(), uuid.New(), -1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
