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

const paymentColumns = `id, order_id, amount::float8, status, created_at`

func (r *PostgresRepository) Create(ctx context.Context, p Payment) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.OrderID, p.Amount, p.Status, p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrOrderPaid
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg uuid.UUID) (Payment, error) {
	var p Payment
	err := r.db.Querier(ctx).QueryRow(ctx, query, arg).
		Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status, &p.CreatedAt)
	if db.IsNoRows(err) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepository) List(ctx context.Context) ([]Payment, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
