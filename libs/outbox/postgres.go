package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

// PostgresRepository stores the events of one source service. Rows of other
// sources sharing the table are never returned by Pending.
type PostgresRepository struct {
	db     *db.DB
	source string
}

func NewPostgresRepository(d *db.DB, source string) *PostgresRepository {
	return &PostgresRepository{db: d, source: source}
}

func (r *PostgresRepository) Insert(ctx context.Context, evt Event) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO outgoing_events (id, source, event_type, payload, processed, created_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, false, $5, $6, $7)
	`, evt.ID, r.source, evt.EventType, evt.Payload, evt.CreatedAt, evt.Traceparent, evt.Tracestate)
	return err
}

func (r *PostgresRepository) Pending(ctx context.Context, createdBefore time.Time, limit int) ([]Event, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT id, event_type, payload, processed, created_at, processed_at, traceparent, tracestate
		FROM outgoing_events
		WHERE source = $1 AND processed = false AND created_at <= $2
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, r.source, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.EventType, &evt.Payload, &evt.Processed, &evt.CreatedAt, &evt.ProcessedAt, &evt.Traceparent, &evt.Tracestate); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	_, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE outgoing_events
		SET processed = true, processed_at = $2
		WHERE id = ANY($1::uuid[])
	`, keys, at)
	return err
}
