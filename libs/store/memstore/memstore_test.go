package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

type row struct {
	ID   string
	Name string
}

func TestInTxRollsBackEveryTable(t *testing.T) {
	s := New()
	users := NewTable[row](s)
	events := NewTable[row](s)
	users.Put("u0", row{ID: "u0"})

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context) error {
		users.Put("u1", row{ID: "u1"})
		events.Insert("e1", row{ID: "e1"})
		_ = users.Update("u0", func(r *row) error { r.Name = "changed"; return nil })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if users.Len() != 1 || events.Len() != 0 {
		t.Fatalf("expected rollback, got users=%d events=%d", users.Len(), events.Len())
	}
	if r, _ := users.Get("u0"); r.Name != "" {
		t.Fatalf("expected u0 restored, got %+v", r)
	}
}

func TestNestedInTxJoinsAndDefersHooks(t *testing.T) {
	s := New()
	tbl := NewTable[row](s)

	var order []string
	err := s.InTx(context.Background(), func(ctx context.Context) error {
		return s.InTx(ctx, func(ctx context.Context) error {
			tbl.Insert("a", row{ID: "a"})
			store.AfterCommit(ctx, func(context.Context) { order = append(order, "hook") })
			order = append(order, "inner")
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "inner" || order[1] != "hook" {
		t.Fatalf("expected hook after commit, got %v", order)
	}
}

func TestHooksDroppedOnRollback(t *testing.T) {
	s := New()
	ran := false
	_ = s.InTx(context.Background(), func(ctx context.Context) error {
		store.AfterCommit(ctx, func(context.Context) { ran = true })
		return errors.New("fail")
	})
	if ran {
		t.Fatalf("hook must not run after rollback")
	}
}

func TestTableKeepsInsertionOrder(t *testing.T) {
	tbl := NewTable[row](New())
	tbl.Put("b", row{ID: "b"})
	tbl.Put("a", row{ID: "a"})
	tbl.Put("c", row{ID: "c"})
	tbl.Delete("a")
	if tbl.Insert("b", row{ID: "b"}) {
		t.Fatalf("insert must refuse an existing key")
	}
	got := tbl.List(nil)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected order %+v", got)
	}
	if err := tbl.Update("a", func(*row) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteIsNotUndoneByConcurrentRollback(t *testing.T) {
	s := New()
	users := NewTable[row](s)
	users.Put("u1", row{ID: "u1"})

	started := make(chan struct{})
	release := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		failed <- s.InTx(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return errors.New("boom")
		})
	}()
	<-started

	deleted := make(chan error, 1)
	go func() {
		deleted <- s.Write(context.Background(), func() error {
			if !users.Delete("u1") {
				return store.ErrNotFound
			}
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-failed; err == nil {
		t.Fatalf("expected the transaction to fail")
	}
	if err := <-deleted; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := users.Get("u1"); ok {
		t.Fatalf("committed delete was undone by an unrelated rollback")
	}
}

func TestWriteJoinsRunningTransaction(t *testing.T) {
	s := New()
	tbl := NewTable[row](s)

	err := s.InTx(context.Background(), func(ctx context.Context) error {
		if err := s.Write(ctx, func() error {
			tbl.Put("a", row{ID: "a"})
			return nil
		}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if tbl.Len() != 0 {
		t.Fatalf("write inside the transaction should roll back with it")
	}
}
