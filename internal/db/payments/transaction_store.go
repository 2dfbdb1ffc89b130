package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duka/internal/payments"
)

// TransactionStore persists the payment attempt ledger in Postgres. The
// unique index on checkout_request_id serves the callback resolution path;
// resolution is a conditional update so concurrent writers cannot both
// apply a terminal state.
type TransactionStore struct {
	db *sql.DB
}

// NewTransactionStore constructs a ledger backed by Postgres.
func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// NewTransactionStoreWithSchema initializes the schema then returns the store.
func NewTransactionStoreWithSchema(ctx context.Context, db *sql.DB) (*TransactionStore, error) {
	store := NewTransactionStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the transactions table if it does not exist.
func (s *TransactionStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			checkout_request_id TEXT UNIQUE NOT NULL,
			order_number TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			result_code INTEGER,
			result_desc TEXT,
			receipt_number TEXT,
			provider_metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_order_number_idx
			ON transactions (order_number)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *TransactionStore) Create(ctx context.Context, tx payments.Transaction) error {
	if tx.CheckoutRequestID == "" {
		return fmt.Errorf("checkout request id required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, checkout_request_id, order_number, amount, currency, method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (checkout_request_id) DO NOTHING`,
		tx.ID, tx.CheckoutRequestID, tx.OrderNumber, tx.Amount, tx.Currency, string(tx.Method), string(tx.Status), tx.CreatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payments.ErrDuplicateCheckout
	}
	return nil
}

func (s *TransactionStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (payments.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, checkout_request_id, order_number, amount, currency, method, status,
			result_code, result_desc, receipt_number, provider_metadata, created_at, resolved_at
		FROM transactions
		WHERE checkout_request_id = $1`,
		checkoutRequestID,
	)
	return scanTransaction(row)
}

func (s *TransactionStore) ListByOrder(ctx context.Context, orderNumber string) ([]payments.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkout_request_id, order_number, amount, currency, method, status,
			result_code, result_desc, receipt_number, provider_metadata, created_at, resolved_at
		FROM transactions
		WHERE order_number = $1
		ORDER BY created_at`,
		orderNumber,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *TransactionStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]payments.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkout_request_id, order_number, amount, currency, method, status,
			result_code, result_desc, receipt_number, provider_metadata, created_at, resolved_at
		FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at`,
		string(payments.StatusPending), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// Resolve applies a terminal outcome only while the row is still PENDING.
// A lost race reports (false, nil) so the caller treats it as a no-op.
func (s *TransactionStore) Resolve(ctx context.Context, checkoutRequestID string, res payments.Resolution) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, result_code = $3, result_desc = $4, receipt_number = $5,
			provider_metadata = $6, resolved_at = $7
		WHERE checkout_request_id = $1 AND status = $8`,
		checkoutRequestID, string(res.Status), res.ResultCode, res.ResultDesc, res.ReceiptNumber,
		nullableJSON(res.ProviderMetadata), res.ResolvedAt, string(payments.StatusPending),
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	// Distinguish a lost race from an unknown id.
	var exists bool
	row := s.db.QueryRowContext(ctx, `SELECT TRUE FROM transactions WHERE checkout_request_id = $1`, checkoutRequestID)
	switch scanErr := row.Scan(&exists); {
	case scanErr == nil:
		return false, nil
	case errors.Is(scanErr, sql.ErrNoRows):
		return false, payments.ErrTransactionNotFound
	default:
		return false, scanErr
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (payments.Transaction, error) {
	var (
		tx         payments.Transaction
		method     string
		status     string
		resultCode sql.NullInt64
		resultDesc sql.NullString
		receipt    sql.NullString
		metadata   []byte
		resolvedAt sql.NullTime
	)
	err := row.Scan(&tx.ID, &tx.CheckoutRequestID, &tx.OrderNumber, &tx.Amount, &tx.Currency,
		&method, &status, &resultCode, &resultDesc, &receipt, &metadata, &tx.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Transaction{}, payments.ErrTransactionNotFound
	}
	if err != nil {
		return payments.Transaction{}, err
	}

	tx.Method = payments.PaymentMethod(method)
	tx.Status = payments.PaymentStatus(status)
	tx.ResultCode = int(resultCode.Int64)
	tx.ResultDesc = resultDesc.String
	tx.ReceiptNumber = receipt.String
	tx.ProviderMetadata = metadata
	if resolvedAt.Valid {
		tx.ResolvedAt = resolvedAt.Time
	}
	return tx, nil
}

func collectTransactions(rows *sql.Rows) ([]payments.Transaction, error) {
	var out []payments.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
