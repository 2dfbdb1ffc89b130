package payments

import (
	"context"
	"time"
)

// TransactionStore is the durable ledger of payment attempts. Lookups by
// checkout request id are the callback resolution hot path and must be
// indexed.
type TransactionStore interface {
	// Create inserts a PENDING transaction. A colliding checkout request
	// id fails with ErrDuplicateCheckout, never a silent overwrite.
	Create(ctx context.Context, tx Transaction) error
	// GetByCheckoutID returns ErrTransactionNotFound for unknown ids.
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (Transaction, error)
	// ListByOrder returns every attempt recorded for an order.
	ListByOrder(ctx context.Context, orderNumber string) ([]Transaction, error)
	// ListPendingBefore returns PENDING transactions created before the cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Transaction, error)
	// Resolve applies a terminal outcome only while the transaction is
	// still PENDING. A lost race returns (false, nil), not an error.
	Resolve(ctx context.Context, checkoutRequestID string, res Resolution) (bool, error)
}

// OrderStore exposes the order fields the payment flow depends on.
type OrderStore interface {
	GetByNumber(ctx context.Context, number string) (Order, error)
	Create(ctx context.Context, o Order) error
	// SetPaymentResult updates both payment and fulfillment status in one
	// write. A COMPLETED payment status is never overwritten; a skipped
	// write returns (false, nil).
	SetPaymentResult(ctx context.Context, number string, payment PaymentStatus, fulfillment FulfillmentStatus) (bool, error)
}
