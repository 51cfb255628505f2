package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/pashagolub/pgxmock/v4"
)

func TestPostgresUpsertCustomer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	c := Customer{ID: uuid.New(), Name: "Ann", Email: "a@x.com", CreatedAt: time.Now().UTC()}
	mock.ExpectExec("ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(c.ID, c.Name, c.Email, c.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewPostgresRepository(db.New(mock)).UpsertCustomer(context.Background(), c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresSetOrderStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(db.New(mock))
	id := uuid.New()
	mock.ExpectExec("UPDATE orders SET status").WithArgs(id, StatusPaid).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE orders SET status").WithArgs(id, StatusPaid).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.SetOrderStatus(context.Background(), id, StatusPaid); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := repo.SetOrderStatus(context.Background(), id, StatusPaid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListOrders(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	o := Order{ID: uuid.New(), UserID: uuid.New(), Product: "Book", Quantity: 2, TotalAmount: 42.5, Status: StatusCreated, CreatedAt: time.Now().UTC()}
	mock.ExpectQuery("FROM orders ORDER BY created_at").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "product", "quantity", "total_amount", "status", "created_at"}).
			AddRow(o.ID, o.UserID, o.Product, o.Quantity, o.TotalAmount, o.Status, o.CreatedAt))

	list, err := NewPostgresRepository(db.New(mock)).ListOrders(context.Background())
	if err != nil || len(list) != 1 || list[0] != o {
		t.Fatalf("unexpected orders %+v (%v)", list, err)
	}
}
