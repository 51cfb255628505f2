package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d}
}

func (r *PostgresRepository) Create(ctx context.Context, n Notification) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO notifications (id, user_id, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, n.ID, n.UserID, n.Message, n.CreatedAt)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Notification, error) {
	var n Notification
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, user_id, message, created_at FROM notifications WHERE id = $1
	`, id).Scan(&n.ID, &n.UserID, &n.Message, &n.CreatedAt)
	if db.IsNoRows(err) {
		return Notification{}, ErrNotFound
	}
	return n, err
}

func (r *PostgresRepository) List(ctx context.Context) ([]Notification, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT id, user_id, message, created_at FROM notifications ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
