// Package retry counts failed processing attempts per delivery so consumers
// can dead-letter a message after a bounded number of redeliveries.
package retry

import (
	"context"
	"sync"
	"time"
)

type Tracker interface {
	// Incr records one more failed attempt for key and returns the total.
	Incr(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// Memory keeps counters in process. Counters of a key expire ttl after its first failure.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	count   int
	expires time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Memory{ttl: ttl, now: time.Now, entries: map[string]*entry{}}
}

func (m *Memory) Incr(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.entries[key]
	if e == nil || now.After(e.expires) {
		e = &entry{expires: now.Add(m.ttl)}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
