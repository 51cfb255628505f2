// Package memstore is an in-process transactional store used by tests and by
// services started with STORE_DRIVER=memory.
//
// Transactions are serialized. A failed unit of work restores every table to
// the snapshot taken when it began, so repositories must write through InTx or
// Write; a bare table write racing a transaction is lost on its rollback.
// Reads outside a transaction observe uncommitted writes of the running one.
package memstore

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

type Store struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	tables []snapshotter
}

type snapshotter interface {
	snapshot() (restore func())
}

var _ store.Transactor = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func (s *Store) register(t snapshotter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, t)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := store.ScopeOf(ctx, s); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	restore := s.snapshot()
	scope := store.NewScope(s, nil)
	committed := false
	defer func() {
		if !committed {
			restore()
			s.txMu.Unlock()
		}
	}()

	if err := fn(store.WithScope(ctx, scope)); err != nil {
		return err
	}
	committed = true
	s.txMu.Unlock()
	scope.Committed(ctx)
	return nil
}

// Write runs fn in the transaction carried by ctx, or else in its own.
func (s *Store) Write(ctx context.Context, fn func() error) error {
	return s.InTx(ctx, func(context.Context) error { return fn() })
}

func (s *Store) snapshot() func() {
	s.mu.Lock()
	tables := append([]snapshotter(nil), s.tables...)
	s.mu.Unlock()

	restores := make([]func(), 0, len(tables))
	for _, t := range tables {
		restores = append(restores, t.snapshot())
	}
	return func() {
		for _, r := range restores {
			r()
		}
	}
}
