package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptStore is the slice of storage a charge attempt may touch while it
// holds the payment's row lock. Writes commit together with the lock release.
type AttemptStore interface {
	SavePayment(p *Payment) error
	AppendRetryLog(l *RetryLog) error
}

// Repository defines payment data access. A charge attempt runs inside
// WithPaymentLocked, which takes a row-level lock so two workers can never
// process the same payment concurrently.
type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListSubscriptionPayments(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error)
	ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	ListRetryLogs(ctx context.Context, paymentID uuid.UUID) ([]*RetryLog, error)

	// WithPaymentLocked loads the payment under SELECT ... FOR UPDATE and runs
	// fn inside that transaction.
	WithPaymentLocked(ctx context.Context, id uuid.UUID, fn func(store AttemptStore, p *Payment) error) error

	// ListDueRetries returns IDs of failed payments whose next_retry_at has
	// passed and that still have retries left.
	ListDueRetries(ctx context.Context, asOf time.Time, maxRetries, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreatePayment(ctx context.Context, p *Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (r *repository) ListSubscriptionPayments(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list subscription payments: %w", err)
	}
	return payments, nil
}

func (r *repository) ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list invoice payments: %w", err)
	}
	return payments, nil
}

func (r *repository) ListRetryLogs(ctx context.Context, paymentID uuid.UUID) ([]*RetryLog, error) {
	var logs []*RetryLog
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("list retry logs: %w", err)
	}
	return logs, nil
}

// txStore scopes attempt writes to the locking transaction.
type txStore struct {
	tx *gorm.DB
}

func (s txStore) SavePayment(p *Payment) error {
	if err := s.tx.Save(p).Error; err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func (s txStore) AppendRetryLog(l *RetryLog) error {
	if err := s.tx.Create(l).Error; err != nil {
		return fmt.Errorf("append retry log: %w", err)
	}
	return nil
}

func (r *repository) WithPaymentLocked(ctx context.Context, id uuid.UUID, fn func(store AttemptStore, p *Payment) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&p, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("lock payment: %w", err)
		}
		return fn(txStore{tx: tx}, &p)
	})
}

func (r *repository) ListDueRetries(ctx context.Context, asOf time.Time, maxRetries, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND retry_count < ?",
			StatusFailed, asOf, maxRetries).
		Order("next_retry_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	return ids, nil
}
