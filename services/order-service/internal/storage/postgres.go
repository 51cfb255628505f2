package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d}
}

const orderColumns = `id, user_id, product, quantity, total_amount::float8, status, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Product, &o.Quantity, &o.TotalAmount, &o.Status, &o.CreatedAt)
	return o, err
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, o Order) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO orders (id, user_id, product, quantity, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.UserID, o.Product, o.Quantity, o.TotalAmount, o.Status, o.CreatedAt)
	return err
}

func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := scanOrder(r.db.Querier(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *PostgresRepository) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetOrderStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpsertCustomer(ctx context.Context, c Customer) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO customers (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`, c.ID, c.Name, c.Email, c.CreatedAt)
	return err
}

func (r *PostgresRepository) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	var c Customer
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, name, email, created_at FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if db.IsNoRows(err) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT id, name, email, created_at FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
