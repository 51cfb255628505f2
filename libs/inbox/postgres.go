package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d}
}

func (r *PostgresRepository) Insert(ctx context.Context, evt Event) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO incoming_events (id, event_type, queue, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
		ON CONFLICT (queue, id) DO NOTHING
	`, evt.ID, evt.EventType, evt.Queue, evt.Payload, evt.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, queue string, id uuid.UUID, at time.Time) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE incoming_events SET processed = true, processed_at = $3 WHERE queue = $1 AND id = $2
	`, queue, id, at)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, queue string, id uuid.UUID) (Event, error) {
	var evt Event
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, event_type, queue, payload, processed, created_at, processed_at
		FROM incoming_events WHERE queue = $1 AND id = $2
	`, queue, id).Scan(&evt.ID, &evt.EventType, &evt.Queue, &evt.Payload, &evt.Processed, &evt.CreatedAt, &evt.ProcessedAt)
	if db.IsNoRows(err) {
		return Event{}, store.ErrNotFound
	}
	return evt, err
}
