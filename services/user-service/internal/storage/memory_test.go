package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

func TestMemoryDeleteSurvivesConcurrentRollback(t *testing.T) {
	s := memstore.New()
	repo := NewMemoryRepository(s)
	u := User{ID: uuid.New(), Name: "Ann", Email: "a@x.com", CreatedAt: time.Now().UTC()}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("create: %v", err)
	}

	inTx := make(chan struct{})
	release := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		failed <- s.InTx(context.Background(), func(ctx context.Context) error {
			close(inTx)
			<-release
			return errors.New("handler failed")
		})
	}()
	<-inTx

	deleted := make(chan error, 1)
	go func() { deleted <- repo.Delete(context.Background(), u.ID) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-failed; err == nil {
		t.Fatalf("expected the unit of work to fail")
	}
	if err := <-deleted; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(context.Background(), u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted user reappeared after an unrelated rollback (err=%v)", err)
	}
	// the email is free again
	if err := repo.Create(context.Background(), User{ID: uuid.New(), Name: "Ann", Email: "A@x.com"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestMemoryCreateRollsBackWithTransaction(t *testing.T) {
	s := memstore.New()
	repo := NewMemoryRepository(s)
	err := s.InTx(context.Background(), func(ctx context.Context) error {
		if err := repo.Create(ctx, User{ID: uuid.New(), Name: "Bob", Email: "b@x.com"}); err != nil {
			return err
		}
		return errors.New("publish failed")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if list, _ := repo.List(context.Background()); len(list) != 0 {
		t.Fatalf("expected no users after rollback, got %d", len(list))
	}
}
