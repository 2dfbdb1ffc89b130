package payments

import "time"

// PaymentStatus is the lifecycle state of a payment attempt. COMPLETED,
// FAILED, and CANCELLED are terminal.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusRefunded  PaymentStatus = "REFUNDED"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// FulfillmentStatus is the order's fulfillment state.
type FulfillmentStatus string

const (
	OrderPendingPayment FulfillmentStatus = "pending-payment"
	OrderPaymentFailed  FulfillmentStatus = "payment-failed"
	OrderProcessing     FulfillmentStatus = "processing"
	OrderShipped        FulfillmentStatus = "shipped"
	OrderDelivered      FulfillmentStatus = "delivered"
	OrderCancelled      FulfillmentStatus = "cancelled"
	OrderRefunded       FulfillmentStatus = "refunded"
)

// PaymentMethod identifies how an order is being funded.
type PaymentMethod string

const (
	MethodMpesa  PaymentMethod = "MPESA"
	MethodCard   PaymentMethod = "CARD"
	MethodPaypal PaymentMethod = "PAYPAL"
	MethodCash   PaymentMethod = "CASH"
)

// Order is the slice of the order aggregate the payment flow reads and
// mutates. UserID is empty for guest orders.
type Order struct {
	ID            string
	Number        string
	UserID        string
	Email         string
	Phone         string
	Total         float64
	PaymentStatus PaymentStatus
	Status        FulfillmentStatus
}

// Transaction is one payment attempt, keyed by the provider-issued
// checkout request id. An order may accumulate several transactions over
// retries; each transaction reaches at most one terminal state.
type Transaction struct {
	ID                string
	CheckoutRequestID string
	OrderNumber       string
	Amount            float64
	Currency          string
	Method            PaymentMethod
	Status            PaymentStatus
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	ProviderMetadata  []byte
	CreatedAt         time.Time
	ResolvedAt        time.Time
}

// Resolution is the terminal outcome applied to a PENDING transaction.
type Resolution struct {
	Status           PaymentStatus
	ResultCode       int
	ResultDesc       string
	ReceiptNumber    string
	ProviderMetadata []byte
	ResolvedAt       time.Time
}

// Event is a best-effort push notification about a payment attempt.
type Event struct {
	OrderNumber       string `json:"orderId"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty"`
	Status            string `json:"status"`
	Message           string `json:"message"`
}
