package payment

import "errors"

var (
	// ErrPaymentNotFound indicates the payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidState indicates the payment is not in a state that allows
	// the requested operation.
	ErrInvalidState = errors.New("payment is not in a valid state for this operation")
)
