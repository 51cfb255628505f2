package outbox

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type MemoryRepository struct {
	events *memstore.Table[Event]
}

func NewMemoryRepository(s *memstore.Store) *MemoryRepository {
	return &MemoryRepository{events: memstore.NewTable[Event](s)}
}

func (r *MemoryRepository) Insert(_ context.Context, evt Event) error {
	if !r.events.Insert(evt.ID.String(), evt) {
		return errDuplicateEvent
	}
	return nil
}

func (r *MemoryRepository) Pending(_ context.Context, createdBefore time.Time, limit int) ([]Event, error) {
	events := r.events.List(func(e Event) bool {
		return !e.Processed && !e.CreatedAt.After(createdBefore)
	})
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (r *MemoryRepository) MarkProcessed(_ context.Context, ids []uuid.UUID, at time.Time) error {
	for _, id := range ids {
		_ = r.events.Update(id.String(), func(e *Event) error {
			e.Processed = true
			e.ProcessedAt = &at
			return nil
		})
	}
	return nil
}

// Get returns the stored event, for inspection in tests and tooling.
func (r *MemoryRepository) Get(id uuid.UUID) (Event, bool) {
	return r.events.Get(id.String())
}

func (r *MemoryRepository) All() []Event {
	return r.events.List(nil)
}
