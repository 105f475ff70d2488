package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rebillhq/server/internal/module/payment/gateway"
	"github.com/rebillhq/server/internal/shared/metrics"
)

// InvoiceService is the slice of the invoice module the payment service needs.
type InvoiceService interface {
	MarkInvoiceAsPaid(ctx context.Context, invoiceID uuid.UUID) error
	VoidInvoice(ctx context.Context, invoiceID uuid.UUID) error
}

// ServiceInterface defines the payment service operations.
type ServiceInterface interface {
	CreatePayment(ctx context.Context, invoiceID, subscriptionID, userID uuid.UUID, amount decimal.Decimal, method string) (*Payment, error)
	ProcessPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	RetryFailedPayments(ctx context.Context) (int, error)
	RefundPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListSubscriptionPayments(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error)
	ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	ListRetryLogs(ctx context.Context, paymentID uuid.UUID) ([]*RetryLog, error)
}

// Service implements the payment workflow: a charge attempt runs under the
// payment's row lock, every attempt lands in the retry log, and failed
// payments carry their own next_retry_at so the retry schedule survives
// restarts.
type Service struct {
	repo       Repository
	gw         gateway.Gateway
	invoices   InvoiceService
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a new payment service.
func NewService(
	repo Repository,
	gw gateway.Gateway,
	invoices InvoiceService,
	maxRetries int,
	retryDelay time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:       repo,
		gw:         gw,
		invoices:   invoices,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// CreatePayment records a pending payment for an invoice. No charge happens
// until ProcessPayment.
func (s *Service) CreatePayment(ctx context.Context, invoiceID, subscriptionID, userID uuid.UUID, amount decimal.Decimal, method string) (*Payment, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidState)
	}
	p := &Payment{
		InvoiceID:      invoiceID,
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Amount:         amount,
		Status:         StatusPending,
		Method:         method,
		Gateway:        s.gw.Name(),
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("payment created",
		zap.String("payment_id", p.ID.String()),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("amount", amount.StringFixed(2)))
	return p, nil
}

// ProcessPayment runs one charge attempt against the gateway. The whole
// attempt holds the payment's row lock, so concurrent processors serialize
// and the loser sees the first attempt's outcome instead of double-charging.
func (s *Service) ProcessPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var out *Payment
	err := s.repo.WithPaymentLocked(ctx, id, func(store AttemptStore, p *Payment) error {
		if p.Status.Terminal() {
			return fmt.Errorf("%w: payment is %s", ErrInvalidState, p.Status)
		}
		if p.Status == StatusFailed && p.NextRetryAt == nil {
			return fmt.Errorf("%w: payment has exhausted its retries", ErrInvalidState)
		}

		attempt := p.RetryCount + 1
		p.Status = StatusProcessing

		result, submitErr := s.submit(ctx, p)

		now := s.now().UTC()
		log := &RetryLog{
			PaymentID: p.ID,
			Attempt:   attempt,
		}

		if submitErr == nil {
			p.Status = StatusSucceeded
			p.GatewayTransactionID = result.TransactionID
			p.FailureCode = ""
			p.FailureMessage = ""
			p.NextRetryAt = nil
			log.Result = StatusSucceeded
		} else {
			code, message := classifyFailure(submitErr)
			p.Status = StatusFailed
			p.FailureCode = code
			p.FailureMessage = message
			p.RetryCount++
			if p.RetryCount < s.maxRetries {
				next := now.Add(s.retryDelay)
				p.NextRetryAt = &next
			} else {
				p.NextRetryAt = nil
			}
			log.Result = StatusFailed
			log.FailureCode = code
			log.FailureMessage = message
		}

		if err := store.SavePayment(p); err != nil {
			return err
		}
		if err := store.AppendRetryLog(log); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAttempt(string(out.Status))

	if out.Status == StatusSucceeded {
		s.logger.Info("payment succeeded",
			zap.String("payment_id", out.ID.String()),
			zap.String("transaction_id", out.GatewayTransactionID))
		if err := s.invoices.MarkInvoiceAsPaid(ctx, out.InvoiceID); err != nil {
			// The charge already went through; reconcile the invoice out of band.
			s.logger.Error("failed to mark invoice paid",
				zap.String("invoice_id", out.InvoiceID.String()),
				zap.Error(err))
		}
	} else {
		s.logger.Warn("payment attempt failed",
			zap.String("payment_id", out.ID.String()),
			zap.String("failure_code", out.FailureCode),
			zap.Int("retry_count", out.RetryCount),
			zap.Bool("retryable", out.NextRetryAt != nil))
	}

	return out, nil
}

// submit calls the gateway, converting a panic into a processing error so one
// misbehaving adapter cannot take the sweep down.
func (s *Service) submit(ctx context.Context, p *Payment) (result *gateway.ChargeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gateway panicked",
				zap.String("payment_id", p.ID.String()),
				zap.Any("panic", r))
			result = nil
			err = &gateway.Failure{
				Code:    gateway.CodeProcessingError,
				Message: fmt.Sprintf("gateway panic: %v", r),
			}
		}
	}()

	start := time.Now()
	result, err = s.gw.Submit(ctx, gateway.ChargeRequest{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Amount:    p.Amount,
		Method:    p.Method,
	})
	if s.metrics != nil {
		s.metrics.GatewaySubmitDuration.WithLabelValues(s.gw.Name()).Observe(time.Since(start).Seconds())
	}
	return result, err
}

// RetryFailedPayments processes every failed payment whose retry is due. Each
// payment is attempted on its own; one bad row does not stop the sweep.
func (s *Service) RetryFailedPayments(ctx context.Context) (int, error) {
	const batchSize = 100

	ids, err := s.repo.ListDueRetries(ctx, s.now().UTC(), s.maxRetries, batchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if s.metrics != nil {
		s.metrics.PaymentRetriesSwept.Add(float64(len(ids)))
	}

	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if _, err := s.ProcessPayment(ctx, id); err != nil {
			s.logger.Error("retry attempt errored",
				zap.String("payment_id", id.String()),
				zap.Error(err))
			continue
		}
		processed++
	}

	s.logger.Info("retry sweep finished",
		zap.Int("due", len(ids)),
		zap.Int("processed", processed))
	return processed, nil
}

// RefundPayment refunds a succeeded payment and voids its invoice.
func (s *Service) RefundPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var out *Payment
	err := s.repo.WithPaymentLocked(ctx, id, func(store AttemptStore, p *Payment) error {
		if p.Status != StatusSucceeded {
			return fmt.Errorf("%w: only succeeded payments can be refunded, payment is %s", ErrInvalidState, p.Status)
		}
		p.Status = StatusRefunded
		if err := store.SavePayment(p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.invoices.VoidInvoice(ctx, out.InvoiceID); err != nil {
		s.logger.Error("failed to void invoice after refund",
			zap.String("invoice_id", out.InvoiceID.String()),
			zap.Error(err))
	}

	s.logger.Info("payment refunded", zap.String("payment_id", out.ID.String()))
	return out, nil
}

// GetPayment returns a payment by ID.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListSubscriptionPayments returns a subscription's payments, newest first.
func (s *Service) ListSubscriptionPayments(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListSubscriptionPayments(ctx, subscriptionID)
}

// ListInvoicePayments returns an invoice's payments, newest first.
func (s *Service) ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListInvoicePayments(ctx, invoiceID)
}

// ListRetryLogs returns every attempt recorded for a payment.
func (s *Service) ListRetryLogs(ctx context.Context, paymentID uuid.UUID) ([]*RetryLog, error) {
	return s.repo.ListRetryLogs(ctx, paymentID)
}

func (s *Service) recordAttempt(result string) {
	if s.metrics != nil {
		s.metrics.PaymentAttemptsTotal.WithLabelValues(s.gw.Name(), result).Inc()
	}
}

// classifyFailure maps a gateway error onto a stored failure code. Anything
// that is not a classified decline counts as a processing error.
func classifyFailure(err error) (code, message string) {
	if f, ok := err.(*gateway.Failure); ok {
		return f.Code, f.Message
	}
	return gateway.CodeProcessingError, err.Error()
}
