package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event persisted in the same transaction as the change it
// announces. Processed turns true once every routed queue confirmed it.
type Event struct {
	ID          uuid.UUID
	EventType   string
	Payload     []byte
	Processed   bool
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Traceparent string
	Tracestate  string
}

type Repository interface {
	Insert(ctx context.Context, evt Event) error
	// Pending returns unprocessed events created at or before the cutoff, oldest first.
	// Inside a transaction the returned rows stay locked until it ends.
	Pending(ctx context.Context, createdBefore time.Time, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
