// Package gateway abstracts the external payment rail. A submit either yields
// a transaction ID or a classified Failure; anything else a gateway adapter
// throws at us is treated upstream as a processing_error.
package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Well-known failure codes.
const (
	CodeInsufficientFunds = "insufficient_funds"
	CodeCardDeclined      = "card_declined"
	CodeExpiredCard       = "expired_card"
	CodeProcessingError   = "processing_error"
)

// ChargeRequest describes a single charge attempt.
type ChargeRequest struct {
	PaymentID uuid.UUID
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Method    string
}

// ChargeResult is a successful charge.
type ChargeResult struct {
	TransactionID string
}

// Failure is a classified gateway decline.
type Failure struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("gateway failure %s: %s", f.Code, f.Message)
}

// Gateway is the external payment-authorization dependency.
type Gateway interface {
	// Name returns the gateway name recorded on payments.
	Name() string

	// Submit attempts the charge. A decline is returned as *Failure; any
	// other error means the attempt itself could not be completed.
	Submit(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
