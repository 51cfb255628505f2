package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/notification-service/internal/storage"
)

var ErrInvalid = errors.New("invalid notification")

type Service struct {
	repo   storage.Repository
	outbox *outbox.Publisher
	now    func() time.Time
}

func New(repo storage.Repository, pub *outbox.Publisher) *Service {
	return &Service{repo: repo, outbox: pub, now: func() time.Time { return time.Now().UTC() }}
}

func WelcomeMessage(name string) string {
	return fmt.Sprintf("Welcome %s, your account has been created.", name)
}

// Send stores a notification and announces it with NotificationSent.
func (s *Service) Send(ctx context.Context, userID uuid.UUID, message string) (storage.Notification, error) {
	message = strings.TrimSpace(message)
	if userID == uuid.Nil || message == "" {
		return storage.Notification{}, fmt.Errorf("%w: user id and message are required", ErrInvalid)
	}
	return outbox.Publish(ctx, s.outbox, events.NotificationSentType,
		func(ctx context.Context) (storage.Notification, error) {
			n := storage.Notification{ID: uuid.New(), UserID: userID, Message: message, CreatedAt: s.now()}
			if err := s.repo.Create(ctx, n); err != nil {
				return storage.Notification{}, fmt.Errorf("create notification: %w", err)
			}
			return n, nil
		},
		func(n storage.Notification) any {
			return events.NotificationSent{Id: n.ID, UserId: n.UserID, Message: n.Message}
		},
	)
}

// HandleUserCreated welcomes a freshly registered user.
func (s *Service) HandleUserCreated(ctx context.Context, _ inbox.Event, u events.UserCreated) error {
	if u.Id == uuid.Nil {
		return fmt.Errorf("%w: UserCreated without Id", inbox.ErrMalformed)
	}
	_, err := s.Send(ctx, u.Id, WelcomeMessage(u.Name))
	return err
}

func (s *Service) Subscriptions(c *inbox.Consumer) []consumer.Subscription {
	return []consumer.Subscription{
		c.Subscribe(events.NotificationCreatedQueue, events.UserCreatedType, inbox.JSON(s.HandleUserCreated)),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (storage.Notification, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]storage.Notification, error) {
	return s.repo.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
