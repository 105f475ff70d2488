package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Status represents the payment lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further attempts may touch this payment.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusRefunded
}

// Payment represents a charge against an invoice.
type Payment struct {
	ID                   uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID            uuid.UUID       `gorm:"type:uuid;not null;index" json:"invoice_id"`
	SubscriptionID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"subscription_id"`
	UserID               uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount               decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Status               Status          `gorm:"type:varchar(20);not null;index" json:"status"`
	Method               string          `gorm:"type:varchar(30);not null" json:"method"`
	Gateway              string          `gorm:"type:varchar(30)" json:"gateway"`
	GatewayTransactionID string          `gorm:"type:varchar(100)" json:"gateway_transaction_id,omitempty"`
	FailureCode          string          `gorm:"type:varchar(50)" json:"failure_code,omitempty"`
	FailureMessage       string          `gorm:"type:varchar(255)" json:"failure_message,omitempty"`
	RetryCount           int             `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt          *time.Time      `gorm:"index" json:"next_retry_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// BeforeCreate assigns the payment ID.
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// RetryLog is an append-only record of every charge attempt, successful or
// not. Attempt numbers start at 1 for the initial charge.
type RetryLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID      uuid.UUID `gorm:"type:uuid;not null;index" json:"payment_id"`
	Attempt        int       `gorm:"not null" json:"attempt"`
	Result         Status    `gorm:"type:varchar(20);not null" json:"result"`
	FailureCode    string    `gorm:"type:varchar(50)" json:"failure_code,omitempty"`
	FailureMessage string    `gorm:"type:varchar(255)" json:"failure_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName overrides the table name for retry logs.
func (RetryLog) TableName() string {
	return "payment_retry_logs"
}
