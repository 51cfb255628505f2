package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event records a received domain event. It is keyed by queue and the
// producer's event id: a redelivered message collides with the row written the
// first time, while the same event fanned out to another queue does not.
type Event struct {
	ID          uuid.UUID
	EventType   string
	Queue       string
	Payload     []byte
	Processed   bool
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

type Repository interface {
	// Insert stores evt unprocessed. It reports false when the queue already
	// recorded the id.
	Insert(ctx context.Context, evt Event) (bool, error)
	MarkProcessed(ctx context.Context, queue string, id uuid.UUID, at time.Time) error
	Get(ctx context.Context, queue string, id uuid.UUID) (Event, error)
}
