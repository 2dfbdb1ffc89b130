package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"duka/internal/mpesa"

	"github.com/google/uuid"
)

// Gateway is the outbound surface of the payment provider.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, req mpesa.STKPushRequest) (mpesa.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error)
}

// Notifier pushes payment events to subscribed clients. Delivery is
// best-effort; the polling path must converge to the same truth without it.
type Notifier interface {
	PaymentEvent(ctx context.Context, evt Event) error
}

// Service is the payment orchestrator: it initiates provider requests,
// reconciles callbacks and polls against the ledger, and keeps order state
// consistent under retries and duplicate deliveries.
type Service struct {
	gateway  Gateway
	ledger   TransactionStore
	orders   OrderStore
	notifier Notifier
	currency string
	logf     func(format string, args ...any)
	now      func() time.Time
	newID    func() string

	asyncTimeout time.Duration
}

// NewService constructs a payment orchestrator.
func NewService(gateway Gateway, ledger TransactionStore, orders OrderStore, notifier Notifier, logf func(format string, args ...any)) *Service {
	if logf == nil {
		logf = log.Printf
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		gateway:      gateway,
		ledger:       ledger,
		orders:       orders,
		notifier:     notifier,
		currency:     "KES",
		logf:         logf,
		now:          time.Now,
		newID:        uuid.NewString,
		asyncTimeout: 2 * time.Minute,
	}
}

// SetCurrency overrides the default KES currency recorded on transactions.
func (s *Service) SetCurrency(currency string) {
	if currency != "" {
		s.currency = currency
	}
}

type noopNotifier struct{}

func (noopNotifier) PaymentEvent(context.Context, Event) error { return nil }

// InitiateInput carries one payment initiation or retry request.
type InitiateInput struct {
	OrderNumber string
	Amount      float64
	Phone       string
	Requester   string
}

// InitiateResult acknowledges a successfully started payment attempt.
type InitiateResult struct {
	TransactionID     string
	CheckoutRequestID string
	CustomerMessage   string
}

// Initiate validates the request, sends the provider prompt, and records a
// PENDING transaction keyed by the returned checkout request id. The caller
// waits for the full provider round-trip.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	order, phone, err := s.validateInitiate(ctx, in)
	if err != nil {
		return InitiateResult{}, err
	}
	return s.startTransaction(ctx, order, in.Amount, phone)
}

// InitiateAsync validates synchronously, then detaches the provider
// round-trip from the caller's connection. The caller learns the outcome
// through the notifier; an initiation failure is pushed as a FAILED event
// since the HTTP response has already been sent.
func (s *Service) InitiateAsync(ctx context.Context, in InitiateInput) error {
	order, phone, err := s.validateInitiate(ctx, in)
	if err != nil {
		return err
	}

	go func() {
		bctx, cancel := context.WithTimeout(context.Background(), s.asyncTimeout)
		defer cancel()

		res, err := s.startTransaction(bctx, order, in.Amount, phone)
		if err != nil {
			s.logf("async initiate for order %s: %v", order.Number, err)
			s.notify(bctx, Event{
				OrderNumber: order.Number,
				Status:      string(StatusFailed),
				Message:     "Could not start the payment request. Please try again.",
			})
			return
		}

		msg := res.CustomerMessage
		if msg == "" {
			msg = "Payment request sent. Enter your M-PESA PIN on your phone."
		}
		s.notify(bctx, Event{
			OrderNumber:       order.Number,
			CheckoutRequestID: res.CheckoutRequestID,
			Status:            string(StatusPending),
			Message:           msg,
		})
	}()
	return nil
}

// Retry starts a brand-new payment attempt for the order. A prior PENDING
// transaction is left to resolve on its own; the order-level guard in
// SetPaymentResult keeps its late callback from overriding a newer outcome.
func (s *Service) Retry(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	return s.Initiate(ctx, in)
}

func (s *Service) validateInitiate(ctx context.Context, in InitiateInput) (Order, string, error) {
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return Order{}, "", err
	}
	if in.Amount <= 0 {
		return Order{}, "", ErrInvalidAmount
	}
	order, err := s.orders.GetByNumber(ctx, in.OrderNumber)
	if err != nil {
		return Order{}, "", err
	}
	// Guest orders carry no owner; anyone holding the order number may pay.
	if order.UserID != "" && order.UserID != in.Requester {
		return Order{}, "", ErrForbidden
	}
	if order.PaymentStatus == StatusCompleted {
		return Order{}, "", ErrAlreadyPaid
	}
	return order, phone, nil
}

func (s *Service) startTransaction(ctx context.Context, order Order, amount float64, phone string) (InitiateResult, error) {
	resp, err := s.gateway.InitiateSTKPush(ctx, mpesa.STKPushRequest{
		Amount:           amount,
		PhoneNumber:      phone,
		AccountReference: order.Number,
	})
	if err != nil {
		// No transaction is recorded for a failed initiation.
		return InitiateResult{}, err
	}

	tx := Transaction{
		ID:                s.newID(),
		CheckoutRequestID: resp.CheckoutRequestID,
		OrderNumber:       order.Number,
		Amount:            amount,
		Currency:          s.currency,
		Method:            MethodMpesa,
		Status:            StatusPending,
		CreatedAt:         s.now(),
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		return InitiateResult{}, fmt.Errorf("record transaction %s: %w", resp.CheckoutRequestID, err)
	}

	return InitiateResult{
		TransactionID:     tx.ID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// HandleCallback reconciles one asynchronous provider delivery. The caller
// has already acknowledged the provider; errors here are for logging only.
// Redeliveries of an already-resolved transaction are no-ops.
func (s *Service) HandleCallback(ctx context.Context, raw []byte) error {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		return err
	}

	tx, err := s.ledger.GetByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("callback %s: %w", cb.CheckoutRequestID, err)
	}
	if tx.Status.Terminal() {
		s.logf("callback for %s ignored: transaction already %s", cb.CheckoutRequestID, tx.Status)
		return nil
	}

	res := Resolution{
		ResultCode:       cb.ResultCode,
		ResultDesc:       cb.ResultDesc,
		ProviderMetadata: raw,
		ResolvedAt:       s.now(),
	}
	if cb.ResultCode == 0 {
		res.Status = StatusCompleted
		res.ReceiptNumber = cb.ReceiptNumber
	} else {
		res.Status = StatusFailed
	}

	_, err = s.resolveTransaction(ctx, tx, res)
	return err
}

// resolveTransaction applies a terminal outcome exactly once. The ledger's
// conditional write is the idempotency guard: the loser of a callback/poll
// race observes applied=false and walks away.
func (s *Service) resolveTransaction(ctx context.Context, tx Transaction, res Resolution) (bool, error) {
	applied, err := s.ledger.Resolve(ctx, tx.CheckoutRequestID, res)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	payment, fulfillment := StatusFailed, OrderPaymentFailed
	switch res.Status {
	case StatusCompleted:
		payment, fulfillment = StatusCompleted, OrderProcessing
	case StatusCancelled:
		payment, fulfillment = StatusCancelled, OrderCancelled
	}

	orderApplied, err := s.orders.SetPaymentResult(ctx, tx.OrderNumber, payment, fulfillment)
	if err != nil {
		return true, fmt.Errorf("update order %s after %s: %w", tx.OrderNumber, res.Status, err)
	}
	if !orderApplied && res.Status == StatusCompleted {
		// A newer attempt already completed the order; this receipt is a
		// duplicate payment that needs manual reconciliation.
		s.logf("order %s already paid; transaction %s completed with receipt %s",
			tx.OrderNumber, tx.CheckoutRequestID, res.ReceiptNumber)
	}

	s.notify(ctx, Event{
		OrderNumber:       tx.OrderNumber,
		CheckoutRequestID: tx.CheckoutRequestID,
		Status:            surfaceStatus(res.Status),
		Message:           resolutionMessage(res),
	})
	return true, nil
}

// StatusResult is the client-facing answer of a status poll.
type StatusResult struct {
	Status        string
	Message       string
	ResultCode    *int
	ResultDesc    string
	ReceiptNumber string
}

// Status reports the state of a payment attempt. A terminal ledger record
// answers directly; otherwise the provider is queried, and a definitive
// answer is persisted through the same once-only resolution path the
// callback uses.
func (s *Service) Status(ctx context.Context, checkoutRequestID string) (StatusResult, error) {
	tx, err := s.ledger.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return StatusResult{}, err
	}
	if tx.Status.Terminal() {
		return statusFromTransaction(tx), nil
	}

	q, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, mpesa.ErrResultNotReady) {
			return StatusResult{
				Status:  string(StatusPending),
				Message: "Payment is still being processed. Please wait.",
			}, nil
		}
		return StatusResult{}, err
	}

	res := Resolution{
		ResultCode:       q.ResultCode,
		ResultDesc:       q.ResultDesc,
		ProviderMetadata: q.Raw,
		ResolvedAt:       s.now(),
	}
	if q.ResultCode == 0 {
		res.Status = StatusCompleted
	} else {
		res.Status = StatusFailed
	}

	applied, err := s.resolveTransaction(ctx, tx, res)
	if err != nil {
		return StatusResult{}, err
	}
	if !applied {
		// Another resolution won the race; its outcome is the truth.
		resolved, err := s.ledger.GetByCheckoutID(ctx, checkoutRequestID)
		if err != nil {
			return StatusResult{}, err
		}
		return statusFromTransaction(resolved), nil
	}

	tx.Status = res.Status
	tx.ResultCode = res.ResultCode
	tx.ResultDesc = res.ResultDesc
	tx.ReceiptNumber = res.ReceiptNumber
	return statusFromTransaction(tx), nil
}

// Cancel is a cooperative local transition: it cannot recall an in-flight
// provider request, but a later success callback will find the transaction
// no longer PENDING and be discarded.
func (s *Service) Cancel(ctx context.Context, checkoutRequestID, requester string) error {
	tx, err := s.ledger.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return err
	}
	order, err := s.orders.GetByNumber(ctx, tx.OrderNumber)
	if err != nil {
		return err
	}
	if order.UserID != "" && order.UserID != requester {
		return ErrForbidden
	}
	if tx.Status != StatusPending {
		return ErrInvalidState
	}

	applied, err := s.resolveTransaction(ctx, tx, Resolution{
		Status:     StatusCancelled,
		ResultDesc: "cancelled by customer",
		ResolvedAt: s.now(),
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrInvalidState
	}
	return nil
}

// SweepPending re-polls every PENDING transaction older than maxAge through
// the status path, reconciling attempts whose callback never arrived.
// Returns how many transactions reached a terminal state.
func (s *Service) SweepPending(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.ledger.ListPendingBefore(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, tx := range stale {
		res, err := s.Status(ctx, tx.CheckoutRequestID)
		if err != nil {
			s.logf("sweep %s: %v", tx.CheckoutRequestID, err)
			continue
		}
		if res.Status != string(StatusPending) {
			resolved++
		}
	}
	return resolved, nil
}

func (s *Service) notify(ctx context.Context, evt Event) {
	if err := s.notifier.PaymentEvent(ctx, evt); err != nil {
		s.logf("notify order %s: %v", evt.OrderNumber, err)
	}
}

// surfaceStatus maps internal transaction states to the client-facing
// vocabulary: COMPLETED is reported as SUCCESS.
func surfaceStatus(status PaymentStatus) string {
	if status == StatusCompleted {
		return "SUCCESS"
	}
	return string(status)
}

func resolutionMessage(res Resolution) string {
	switch res.Status {
	case StatusCompleted:
		if res.ReceiptNumber != "" {
			return fmt.Sprintf("Payment received. M-PESA receipt %s.", res.ReceiptNumber)
		}
		return "Payment received."
	case StatusCancelled:
		return "Payment request was cancelled."
	default:
		return mpesa.ResultMessage(res.ResultCode, res.ResultDesc)
	}
}

func statusFromTransaction(tx Transaction) StatusResult {
	out := StatusResult{
		Status:        surfaceStatus(tx.Status),
		ResultDesc:    tx.ResultDesc,
		ReceiptNumber: tx.ReceiptNumber,
	}
	if tx.Status.Terminal() {
		code := tx.ResultCode
		out.ResultCode = &code
	}
	out.Message = resolutionMessage(Resolution{
		Status:        tx.Status,
		ResultCode:    tx.ResultCode,
		ResultDesc:    tx.ResultDesc,
		ReceiptNumber: tx.ReceiptNumber,
	})
	if tx.Status == StatusPending {
		out.Message = "Payment is still being processed. Please wait."
	}
	return out
}
