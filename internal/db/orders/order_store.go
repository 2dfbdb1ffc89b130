package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duka/internal/payments"
)

// OrderStore persists the order fields the payment flow touches.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_number TEXT UNIQUE NOT NULL,
			user_id TEXT,
			email TEXT,
			phone TEXT,
			total DOUBLE PRECISION NOT NULL,
			payment_status TEXT NOT NULL DEFAULT 'PENDING',
			status TEXT NOT NULL DEFAULT 'pending-payment',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *OrderStore) Create(ctx context.Context, o payments.Order) error {
	if o.Number == "" {
		return fmt.Errorf("order number required")
	}
	paymentStatus := o.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = payments.StatusPending
	}
	status := o.Status
	if status == "" {
		status = payments.OrderPendingPayment
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, email, phone, total, payment_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_number) DO NOTHING`,
		o.ID, o.Number, o.UserID, o.Email, o.Phone, o.Total, string(paymentStatus), string(status),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payments.ErrDuplicateOrder
	}
	return nil
}

func (s *OrderStore) GetByNumber(ctx context.Context, number string) (payments.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_number, user_id, email, phone, total, payment_status, status
		FROM orders
		WHERE order_number = $1`,
		number,
	)

	var (
		o             payments.Order
		userID        sql.NullString
		email         sql.NullString
		phone         sql.NullString
		paymentStatus string
		status        string
	)
	err := row.Scan(&o.ID, &o.Number, &userID, &email, &phone, &o.Total, &paymentStatus, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Order{}, payments.ErrOrderNotFound
	}
	if err != nil {
		return payments.Order{}, err
	}

	o.UserID = userID.String
	o.Email = email.String
	o.Phone = phone.String
	o.PaymentStatus = payments.PaymentStatus(paymentStatus)
	o.Status = payments.FulfillmentStatus(status)
	return o, nil
}

// SetPaymentResult writes payment and fulfillment status together. The
// guard on payment_status keeps a late failure or duplicate success from
// overwriting an order that is already paid.
func (s *OrderStore) SetPaymentResult(ctx context.Context, number string, payment payments.PaymentStatus, fulfillment payments.FulfillmentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, status = $3, updated_at = NOW()
		WHERE order_number = $1 AND payment_status <> $4`,
		number, string(payment), string(fulfillment), string(payments.StatusCompleted),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	row := s.db.QueryRowContext(ctx, `SELECT TRUE FROM orders WHERE order_number = $1`, number)
	switch scanErr := row.Scan(&exists); {
	case scanErr == nil:
		return false, nil
	case errors.Is(scanErr, sql.ErrNoRows):
		return false, payments.ErrOrderNotFound
	default:
		return false, scanErr
	}
}
