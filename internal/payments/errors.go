package payments

import "errors"

// ErrInvalidPhoneNumber signals a phone number that matches no recognized shape.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// ErrInvalidAmount signals a non-positive payment amount.
var ErrInvalidAmount = errors.New("amount must be greater than zero")

// ErrOrderNotFound signals an unknown order number.
var ErrOrderNotFound = errors.New("order not found")

// ErrDuplicateOrder signals an order number that already exists.
var ErrDuplicateOrder = errors.New("order number already exists")

// ErrForbidden signals a requester that does not own the order.
var ErrForbidden = errors.New("requester does not own this order")

// ErrAlreadyPaid signals an order whose payment is already COMPLETED.
var ErrAlreadyPaid = errors.New("order already paid")

// ErrInvalidState signals an operation on a transaction in the wrong state.
var ErrInvalidState = errors.New("transaction is not in a valid state for this operation")

// ErrTransactionNotFound signals an unknown checkout request id.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrDuplicateCheckout signals a create with a checkout request id that is
// already in the ledger.
var ErrDuplicateCheckout = errors.New("checkout request id already exists")
