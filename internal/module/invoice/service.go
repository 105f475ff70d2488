package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ServiceInterface defines the invoice service operations.
type ServiceInterface interface {
	CreateInvoice(ctx context.Context, subscriptionID, userID uuid.UUID, amount decimal.Decimal, description string, periodStart, periodEnd time.Time) (*Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListSubscriptionInvoices(ctx context.Context, subscriptionID uuid.UUID) ([]*Invoice, error)
	MarkInvoiceAsPaid(ctx context.Context, invoiceID uuid.UUID) error
	VoidInvoice(ctx context.Context, invoiceID uuid.UUID) error
}

// Service implements invoice lifecycle management. Invoices only move forward:
// open to paid, or open/paid to void.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new invoice service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// CreateInvoice opens an invoice for a subscription period.
func (s *Service) CreateInvoice(ctx context.Context, subscriptionID, userID uuid.UUID, amount decimal.Decimal, description string, periodStart, periodEnd time.Time) (*Invoice, error) {
	inv := &Invoice{
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Amount:         amount,
		Status:         StatusOpen,
		Description:    description,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("subscription_id", subscriptionID.String()),
		zap.String("amount", amount.StringFixed(2)))
	return inv, nil
}

// GetInvoice returns an invoice by ID.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListSubscriptionInvoices returns a subscription's invoices, newest first.
func (s *Service) ListSubscriptionInvoices(ctx context.Context, subscriptionID uuid.UUID) ([]*Invoice, error) {
	return s.repo.ListSubscriptionInvoices(ctx, subscriptionID)
}

// MarkInvoiceAsPaid moves an open invoice to paid.
func (s *Service) MarkInvoiceAsPaid(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status == StatusPaid {
		return nil
	}
	if inv.Status != StatusOpen {
		return fmt.Errorf("%w: invoice is %s", ErrInvalidTransition, inv.Status)
	}
	now := s.now().UTC()
	inv.Status = StatusPaid
	inv.PaidAt = &now
	return s.repo.UpdateInvoice(ctx, inv)
}

// VoidInvoice voids an invoice. Paid invoices may be voided after a refund.
func (s *Service) VoidInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status == StatusVoid {
		return nil
	}
	inv.Status = StatusVoid
	return s.repo.UpdateInvoice(ctx, inv)
}
