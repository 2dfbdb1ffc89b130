package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"duka/internal/payments"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

var txColumns = []string{
	"id", "checkout_request_id", "order_number", "amount", "currency", "method", "status",
	"result_code", "result_desc", "receipt_number", "provider_metadata", "created_at", "resolved_at",
}

func TestTransactionStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS transactions_order_number_idx").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewTransactionStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestTransactionStore_WithSchemaHelperError(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transactions").
		WillReturnError(errors.New("boom"))
	mock.ExpectClose()

	store, err := NewTransactionStoreWithSchema(context.Background(), db)
	if err == nil {
		t.Fatalf("expected error")
	}
	if store != nil {
		t.Fatalf("expected nil store on error")
	}
}

func TestTransactionStore_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	created := time.Now()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs("tx-1", "ws_CO_1", "LNB-001", 500.0, "KES", "MPESA", "PENDING", created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewTransactionStore(db)
	err := store.Create(context.Background(), payments.Transaction{
		ID:                "tx-1",
		CheckoutRequestID: "ws_CO_1",
		OrderNumber:       "LNB-001",
		Amount:            500,
		Currency:          "KES",
		Method:            payments.MethodMpesa,
		Status:            payments.StatusPending,
		CreatedAt:         created,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestTransactionStore_CreateDuplicateCheckout(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewTransactionStore(db)
	err := store.Create(context.Background(), payments.Transaction{
		ID:                "tx-1",
		CheckoutRequestID: "ws_CO_1",
	})
	if !errors.Is(err, payments.ErrDuplicateCheckout) {
		t.Fatalf("err = %v, want ErrDuplicateCheckout", err)
	}
}

func TestTransactionStore_CreateRequiresCheckoutID(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectClose()

	store := NewTransactionStore(db)
	if err := store.Create(context.Background(), payments.Transaction{ID: "tx-1"}); err == nil {
		t.Fatalf("expected error for missing checkout request id")
	}
}

func TestTransactionStore_GetByCheckoutID(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	created := time.Now()
	rows := sqlmock.NewRows(txColumns).
		AddRow("tx-1", "ws_CO_1", "LNB-001", 500.0, "KES", "MPESA", "COMPLETED",
			int64(0), "ok", "NLJ7RT61SV", []byte(`{"Body":{}}`), created, created)

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs("ws_CO_1").
		WillReturnRows(rows)
	mock.ExpectClose()

	store := NewTransactionStore(db)
	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	if err != nil {
		t.Fatalf("GetByCheckoutID: %v", err)
	}
	if tx.Status != payments.StatusCompleted || tx.ReceiptNumber != "NLJ7RT61SV" {
		t.Fatalf("tx = %+v", tx)
	}
	if tx.Method != payments.MethodMpesa || len(tx.ProviderMetadata) == 0 {
		t.Fatalf("tx = %+v", tx)
	}
}

func TestTransactionStore_GetByCheckoutIDNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs("ws_CO_missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewTransactionStore(db)
	if _, err := store.GetByCheckoutID(context.Background(), "ws_CO_missing"); !errors.Is(err, payments.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestTransactionStore_ResolveApplies(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE transactions").
		WithArgs("ws_CO_1", "COMPLETED", 0, "ok", "NLJ7RT61SV", sqlmock.AnyArg(), sqlmock.AnyArg(), "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewTransactionStore(db)
	applied, err := store.Resolve(context.Background(), "ws_CO_1", payments.Resolution{
		Status:           payments.StatusCompleted,
		ResultCode:       0,
		ResultDesc:       "ok",
		ReceiptNumber:    "NLJ7RT61SV",
		ProviderMetadata: []byte(`{}`),
		ResolvedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !applied {
		t.Fatalf("expected resolution to apply")
	}
}

func TestTransactionStore_ResolveLostRace(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT TRUE FROM transactions").
		WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectClose()

	store := NewTransactionStore(db)
	applied, err := store.Resolve(context.Background(), "ws_CO_1", payments.Resolution{Status: payments.StatusFailed})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if applied {
		t.Fatalf("lost race must report applied=false")
	}
}

func TestTransactionStore_ResolveUnknownID(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT TRUE FROM transactions").
		WithArgs("ws_CO_missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewTransactionStore(db)
	if _, err := store.Resolve(context.Background(), "ws_CO_missing", payments.Resolution{Status: payments.StatusFailed}); !errors.Is(err, payments.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestTransactionStore_ListPendingBefore(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	created := time.Now().Add(-time.Hour)
	rows := sqlmock.NewRows(txColumns).
		AddRow("tx-1", "ws_CO_1", "LNB-001", 500.0, "KES", "MPESA", "PENDING",
			nil, nil, nil, nil, created, nil)

	cutoff := time.Now().Add(-5 * time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs("PENDING", cutoff).
		WillReturnRows(rows)
	mock.ExpectClose()

	store := NewTransactionStore(db)
	stale, err := store.ListPendingBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ListPendingBefore: %v", err)
	}
	if len(stale) != 1 || stale[0].CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("stale = %+v", stale)
	}
}
