package users

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/platform/platformtest"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/storage"
)

func TestRegisterPublishesToBothQueues(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	svc := New(storage.NewMemoryRepository(env.Store), env.Outbox, env.Logger)

	u, err := svc.Register(context.Background(), "Ann", "a@x.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, q := range []string{events.UserCreatedQueue, events.NotificationCreatedQueue} {
		got := platformtest.Published[events.UserCreated](t, env, q)
		if len(got) != 1 || got[0] != (events.UserCreated{Id: u.ID, Name: "Ann", Email: "a@x.com"}) {
			t.Fatalf("unexpected messages on %s: %+v", q, got)
		}
	}
	// both copies carry the same event id so each consumer can deduplicate
	a := env.Broker.Messages(events.UserCreatedQueue)[0]
	b := env.Broker.Messages(events.NotificationCreatedQueue)[0]
	if a.MessageID == "" || a.MessageID != b.MessageID {
		t.Fatalf("expected one event id, got %q and %q", a.MessageID, b.MessageID)
	}
	rows := env.OutboxRepo.All()
	if len(rows) != 1 || !rows[0].Processed {
		t.Fatalf("expected one processed outbox row, got %+v", rows)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	svc := New(storage.NewMemoryRepository(env.Store), env.Outbox, env.Logger)

	if _, err := svc.Register(context.Background(), "Ann", "a@x.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "Ann Again", "A@X.com"); !errors.Is(err, storage.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if n := len(env.OutboxRepo.All()); n != 1 {
		t.Fatalf("rejected user must not leave an event, got %d rows", n)
	}
	if _, err := svc.Register(context.Background(), "Bob", "not-an-email"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestNotificationSentMarksUserWelcomed(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	repo := storage.NewMemoryRepository(env.Store)
	svc := New(repo, env.Outbox, env.Logger)
	env.Run(t, svc.Subscriptions(env.Inbox)...)

	u, err := svc.Register(context.Background(), "Ann", "a@x.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env.Deliver(t, events.NotificationSentQueue, uuid.NewString(), events.NotificationSentType,
		events.NotificationSent{Id: uuid.New(), UserId: u.ID, Message: "Welcome Ann, your account has been created."})

	platformtest.WaitFor(t, "welcomed user", func() bool {
		got, err := repo.Get(context.Background(), u.ID)
		return err == nil && got.WelcomedAt != nil
	})
}
