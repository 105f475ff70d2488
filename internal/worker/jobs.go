package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rebillhq/server/internal/module/invoice"
	"github.com/rebillhq/server/internal/module/payment"
	"github.com/rebillhq/server/internal/module/subscription"
)

const renewalBatchSize = 100

// RetrySweep re-attempts failed payments whose retry time has come.
type RetrySweep struct {
	payments payment.ServiceInterface
	logger   *zap.Logger
}

// NewRetrySweep creates the payment retry sweep.
func NewRetrySweep(payments payment.ServiceInterface, logger *zap.Logger) *RetrySweep {
	return &RetrySweep{payments: payments, logger: logger}
}

// Run executes one sweep.
func (j *RetrySweep) Run(ctx context.Context) {
	processed, err := j.payments.RetryFailedPayments(ctx)
	if err != nil {
		j.logger.Error("retry sweep failed", zap.Error(err))
		return
	}
	if processed > 0 {
		j.logger.Info("retry sweep processed payments", zap.Int("processed", processed))
	}
}

// RenewalSweep rolls due subscriptions into their next period and bills them:
// renew, open an invoice for the new period, then charge it.
type RenewalSweep struct {
	subscriptions subscription.ServiceInterface
	plans         subscription.PlanSource
	invoices      invoice.ServiceInterface
	payments      payment.ServiceInterface
	logger        *zap.Logger
	now           func() time.Time
}

// NewRenewalSweep creates the subscription renewal sweep.
func NewRenewalSweep(
	subscriptions subscription.ServiceInterface,
	plans subscription.PlanSource,
	invoices invoice.ServiceInterface,
	payments payment.ServiceInterface,
	logger *zap.Logger,
) *RenewalSweep {
	return &RenewalSweep{
		subscriptions: subscriptions,
		plans:         plans,
		invoices:      invoices,
		payments:      payments,
		logger:        logger,
		now:           time.Now,
	}
}

// Run executes one sweep.
func (j *RenewalSweep) Run(ctx context.Context) {
	ids, err := j.subscriptions.ListDueRenewals(ctx, j.now().UTC(), renewalBatchSize)
	if err != nil {
		j.logger.Error("listing due renewals failed", zap.Error(err))
		return
	}

	renewed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := j.renewOne(ctx, id); err != nil {
			j.logger.Error("renewal failed",
				zap.String("subscription_id", id.String()),
				zap.Error(err))
			continue
		}
		renewed++
	}

	if len(ids) > 0 {
		j.logger.Info("renewal sweep finished",
			zap.Int("due", len(ids)),
			zap.Int("renewed", renewed))
	}
}

func (j *RenewalSweep) renewOne(ctx context.Context, id uuid.UUID) error {
	sub, err := j.subscriptions.RenewSubscription(ctx, id)
	if err != nil {
		// A concurrent writer moved the row; the next sweep picks it up again.
		if errors.Is(err, subscription.ErrOptimisticLock) {
			j.logger.Debug("renewal lost the write race",
				zap.String("subscription_id", id.String()))
			return nil
		}
		return err
	}

	// Cancel-at-period-end finalized instead of renewing; nothing to bill.
	if sub.IsCanceled() {
		return nil
	}

	plan, err := j.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return fmt.Errorf("load plan for renewal: %w", err)
	}

	inv, err := j.invoices.CreateInvoice(ctx, sub.ID, sub.UserID, plan.Price,
		fmt.Sprintf("Renewal: %s", plan.Name),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("create renewal invoice: %w", err)
	}

	p, err := j.payments.CreatePayment(ctx, inv.ID, sub.ID, sub.UserID, plan.Price, "card")
	if err != nil {
		return fmt.Errorf("create renewal payment: %w", err)
	}

	// A declined charge is not a sweep error: the payment carries its own
	// retry schedule from here.
	if _, err := j.payments.ProcessPayment(ctx, p.ID); err != nil {
		return fmt.Errorf("process renewal payment: %w", err)
	}
	return nil
}
