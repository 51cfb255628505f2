package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
)

type MemoryRepository struct {
	events *memstore.Table[Event]
}

func NewMemoryRepository(s *memstore.Store) *MemoryRepository {
	return &MemoryRepository{events: memstore.NewTable[Event](s)}
}

func (r *MemoryRepository) Insert(_ context.Context, evt Event) (bool, error) {
	return r.events.Insert(eventKey(evt.Queue, evt.ID), evt), nil
}

func (r *MemoryRepository) MarkProcessed(_ context.Context, queue string, id uuid.UUID, at time.Time) error {
	return r.events.Update(eventKey(queue, id), func(e *Event) error {
		e.Processed = true
		e.ProcessedAt = &at
		return nil
	})
}

func (r *MemoryRepository) Get(_ context.Context, queue string, id uuid.UUID) (Event, error) {
	evt, ok := r.events.Get(eventKey(queue, id))
	if !ok {
		return Event{}, store.ErrNotFound
	}
	return evt, nil
}

func (r *MemoryRepository) All() []Event {
	return r.events.List(nil)
}

func eventKey(queue string, id uuid.UUID) string {
	return queue + "/" + id.String()
}
