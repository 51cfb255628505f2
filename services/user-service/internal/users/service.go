package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/storage"
)

var ErrInvalid = errors.New("invalid user")

type Service struct {
	repo   storage.Repository
	outbox *outbox.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func New(repo storage.Repository, pub *outbox.Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, outbox: pub, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a user and announces it with UserCreated, which reaches
// both the order and the notification service.
func (s *Service) Register(ctx context.Context, name, email string) (storage.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return storage.User{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return storage.User{}, fmt.Errorf("%w: email %q is not a valid address", ErrInvalid, email)
	}
	return outbox.Publish(ctx, s.outbox, events.UserCreatedType,
		func(ctx context.Context) (storage.User, error) {
			u := storage.User{ID: uuid.New(), Name: name, Email: email, CreatedAt: s.now()}
			if err := s.repo.Create(ctx, u); err != nil {
				return storage.User{}, err
			}
			return u, nil
		},
		func(u storage.User) any {
			return events.UserCreated{Id: u.ID, Name: u.Name, Email: u.Email}
		},
	)
}

// HandleNotificationSent records that the user received their welcome.
func (s *Service) HandleNotificationSent(ctx context.Context, _ inbox.Event, n events.NotificationSent) error {
	if n.UserId == uuid.Nil {
		return fmt.Errorf("%w: NotificationSent without UserId", inbox.ErrMalformed)
	}
	err := s.repo.MarkWelcomed(ctx, n.UserId, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("notification for unknown user", "user_id", n.UserId.String(), "notification_id", n.Id.String())
		return nil
	}
	return err
}

func (s *Service) Subscriptions(c *inbox.Consumer) []consumer.Subscription {
	return []consumer.Subscription{
		c.Subscribe(events.NotificationSentQueue, events.NotificationSentType, inbox.JSON(s.HandleNotificationSent)),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (storage.User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]storage.User, error) {
	return s.repo.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
