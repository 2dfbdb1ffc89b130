package payments

import (
	"context"
	"sync"
	"time"
)

// NewMemoryTransactionStore constructs an in-memory ledger.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txs: make(map[string]Transaction)}
}

// MemoryTransactionStore keeps transactions in a map keyed by checkout
// request id. The mutex gives it the same compare-and-set discipline as
// the Postgres store.
type MemoryTransactionStore struct {
	mu  sync.Mutex
	txs map[string]Transaction
}

func (s *MemoryTransactionStore) Create(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.CheckoutRequestID]; ok {
		return ErrDuplicateCheckout
	}
	s.txs[tx.CheckoutRequestID] = tx
	return nil
}

func (s *MemoryTransactionStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[checkoutRequestID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *MemoryTransactionStore) ListByOrder(ctx context.Context, orderNumber string) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, tx := range s.txs {
		if tx.OrderNumber == orderNumber {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryTransactionStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, tx := range s.txs {
		if tx.Status == StatusPending && tx.CreatedAt.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryTransactionStore) Resolve(ctx context.Context, checkoutRequestID string, res Resolution) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[checkoutRequestID]
	if !ok {
		return false, ErrTransactionNotFound
	}
	if tx.Status != StatusPending {
		return false, nil
	}
	tx.Status = res.Status
	tx.ResultCode = res.ResultCode
	tx.ResultDesc = res.ResultDesc
	tx.ReceiptNumber = res.ReceiptNumber
	tx.ProviderMetadata = res.ProviderMetadata
	tx.ResolvedAt = res.ResolvedAt
	s.txs[checkoutRequestID] = tx
	return true, nil
}

// NewMemoryOrderStore constructs an in-memory order store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]Order)}
}

// MemoryOrderStore keeps orders in a map keyed by order number.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func (s *MemoryOrderStore) Create(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.Number]; ok {
		return ErrDuplicateOrder
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = StatusPending
	}
	if o.Status == "" {
		o.Status = OrderPendingPayment
	}
	s.orders[o.Number] = o
	return nil
}

func (s *MemoryOrderStore) GetByNumber(ctx context.Context, number string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[number]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *MemoryOrderStore) SetPaymentResult(ctx context.Context, number string, payment PaymentStatus, fulfillment FulfillmentStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[number]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.PaymentStatus == StatusCompleted {
		return false, nil
	}
	o.PaymentStatus = payment
	o.Status = fulfillment
	s.orders[number] = o
	return true, nil
}
