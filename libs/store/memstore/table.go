package memstore

import (
	"sync"

	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

// Table is a keyed collection that keeps insertion order.
type Table[T any] struct {
	mu    sync.RWMutex
	rows  map[string]T
	order []string
}

func NewTable[T any](s *Store) *Table[T] {
	t := &Table[T]{rows: map[string]T{}}
	s.register(t)
	return t
}

func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok
}

// Insert adds v unless key is taken.
func (t *Table[T]) Insert(key string, v T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; ok {
		return false
	}
	t.rows[key] = v
	t.order = append(t.order, key)
	return true
}

func (t *Table[T]) Put(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = v
}

// Update applies fn to a copy of the row and stores the result.
func (t *Table[T]) Update(key string, fn func(*T) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.rows[key]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(&v); err != nil {
		return err
	}
	t.rows[key] = v
	return nil
}

func (t *Table[T]) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[key]; !ok {
		return false
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns the rows accepted by keep (all rows when keep is nil) in insertion order.
func (t *Table[T]) List(keep func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.order))
	for _, k := range t.order {
		v := t.rows[k]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table[T]) snapshot() func() {
	t.mu.RLock()
	rows := make(map[string]T, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}
	order := append([]string(nil), t.order...)
	t.mu.RUnlock()

	return func() {
		t.mu.Lock()
		t.rows = rows
		t.order = order
		t.mu.Unlock()
	}
}
