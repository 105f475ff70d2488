package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rebillhq/server/internal/module/catalog"
	"github.com/rebillhq/server/internal/module/proration"
	"github.com/rebillhq/server/internal/shared/metrics"
)

// PlanSource is the catalog read dependency.
type PlanSource interface {
	GetPlan(ctx context.Context, planID string) (*catalog.Plan, error)
}

// ServiceInterface defines the subscription manager interface.
type ServiceInterface interface {
	CreateSubscription(ctx context.Context, userID uuid.UUID, planID string, startDate time.Time) (*Subscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error)
	ChangePlan(ctx context.Context, id uuid.UUID, newPlanID string, immediate bool) (*Subscription, *proration.Result, error)
	CancelSubscription(ctx context.Context, id uuid.UUID, immediate bool) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	RenewSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetHistory(ctx context.Context, id uuid.UUID) ([]*History, error)
	ListDueRenewals(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error)
}

// Service owns the subscription aggregate. Every mutation is a single guarded
// write: a conflicting concurrent writer gets ErrOptimisticLock and the
// service never retries on its own.
type Service struct {
	repo    Repository
	plans   PlanSource
	calc    *proration.Calculator
	metrics *metrics.Metrics
	logger  *zap.Logger

	now func() time.Time
}

// NewService creates a new subscription service. m may be nil.
func NewService(repo Repository, plans PlanSource, calc *proration.Calculator, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		plans:   plans,
		calc:    calc,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateSubscription starts a subscription on the given plan. A plan with
// trial days starts in trial; otherwise it is active immediately.
func (s *Service) CreateSubscription(ctx context.Context, userID uuid.UUID, planID string, startDate time.Time) (*Subscription, error) {
	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, catalog.ErrPlanNotActive
	}

	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             StatusActive,
		CurrentPeriodStart: startDate,
		CurrentPeriodEnd:   plan.PeriodEnd(startDate),
		Version:            0,
	}
	if plan.HasTrial() {
		trialEnd := startDate.AddDate(0, 0, plan.TrialDays)
		sub.TrialEnd = &trialEnd
		sub.Status = StatusTrial
	}

	h := &History{
		SubscriptionID: sub.ID,
		Action:         ActionCreated,
		NewPlanID:      plan.ID,
		NewStatus:      sub.Status,
	}

	if err := s.repo.CreateSubscription(ctx, sub, h); err != nil {
		return nil, err
	}

	s.recordMutation(ActionCreated)
	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("plan_id", plan.ID),
		zap.String("status", string(sub.Status)),
	)
	return sub, nil
}

// GetSubscription returns a subscription by ID.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.repo.GetSubscription(ctx, id)
}

// GetActiveSubscription returns the user's current trial or active subscription.
func (s *Service) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.repo.GetActiveSubscription(ctx, userID)
}

// ListUserSubscriptions returns all of the user's subscriptions.
func (s *Service) ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error) {
	return s.repo.ListUserSubscriptions(ctx, userID)
}

// GetHistory returns the audit history for a subscription.
func (s *Service) GetHistory(ctx context.Context, id uuid.UUID) ([]*History, error) {
	if _, err := s.repo.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// ListDueRenewals returns subscriptions whose period ended as of asOf.
func (s *Service) ListDueRenewals(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	return s.repo.ListDueRenewals(ctx, asOf, limit)
}

// ChangePlan moves the subscription to another plan with the same billing
// period. Immediate changes are prorated over the remainder of the current
// period; deferred changes are stashed on the row and applied by the next
// renewal.
func (s *Service) ChangePlan(ctx context.Context, id uuid.UUID, newPlanID string, immediate bool) (*Subscription, *proration.Result, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sub.IsCanceled() {
		return nil, nil, ErrSubscriptionCanceled
	}

	oldPlan, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	newPlan, err := s.plans.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, nil, err
	}
	if !newPlan.Active {
		return nil, nil, catalog.ErrPlanNotActive
	}
	// Cross-period changes are unsupported: cancel and recreate instead.
	if oldPlan.BillingPeriod != newPlan.BillingPeriod {
		return nil, nil, ErrIncompatibleBillingPeriod
	}

	expected := sub.Version
	now := s.now()

	var res proration.Result
	h := &History{
		SubscriptionID: sub.ID,
		Action:         ActionPlanChanged,
		OldPlanID:      oldPlan.ID,
		NewPlanID:      newPlan.ID,
		OldStatus:      sub.Status,
		NewStatus:      sub.Status,
	}

	if immediate {
		res = s.calc.CalculateProration(oldPlan.Price, newPlan.Price,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
		sub.PlanID = newPlan.ID
		sub.ScheduledChange = nil
		h.ProrationAmount = res.NetAmount
	} else {
		sub.ScheduledChange = &ScheduledChange{
			NewPlanID:   newPlan.ID,
			ScheduledAt: now,
		}
		res = proration.Result{
			CreditAmount: decimal.Zero,
			ChargeAmount: decimal.Zero,
			NetAmount:    decimal.Zero,
		}
	}

	if err := s.repo.UpdateGuarded(ctx, sub, expected, h); err != nil {
		return nil, nil, s.lockErr(err)
	}

	s.recordMutation(ActionPlanChanged)
	s.logger.Info("plan changed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("old_plan_id", oldPlan.ID),
		zap.String("new_plan_id", newPlan.ID),
		zap.Bool("immediate", immediate),
		zap.String("proration_net", res.NetAmount.String()),
	)
	return sub, &res, nil
}

// CancelSubscription cancels immediately or at the end of the current period.
// A deferred cancel leaves the status untouched until the renewal sweep
// finalizes it. An immediate cancel of a paid period records the unused-time
// credit on the history row.
func (s *Service) CancelSubscription(ctx context.Context, id uuid.UUID, immediate bool) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsCanceled() {
		return nil, ErrSubscriptionCanceled
	}

	expected := sub.Version
	now := s.now()

	h := &History{
		SubscriptionID: sub.ID,
		OldPlanID:      sub.PlanID,
		NewPlanID:      sub.PlanID,
		OldStatus:      sub.Status,
	}

	if immediate {
		// A trial has paid nothing, so there is no credit to record.
		if sub.Status == StatusActive {
			plan, err := s.plans.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return nil, err
			}
			credit := s.calc.CalculateCancellationCredit(plan.Price,
				sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
			h.ProrationAmount = credit.CreditAmount
		}
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
		h.Action = ActionCanceledImmediate
	} else {
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = &now
		h.Action = ActionCanceledAtPeriodEnd
	}
	h.NewStatus = sub.Status

	if err := s.repo.UpdateGuarded(ctx, sub, expected, h); err != nil {
		return nil, s.lockErr(err)
	}

	s.recordMutation(h.Action)
	s.logger.Info("subscription canceled",
		zap.String("subscription_id", sub.ID.String()),
		zap.Bool("immediate", immediate),
	)
	return sub, nil
}

// ReactivateSubscription undoes a cancellation and forces the subscription
// active. A trial in progress is ended; the subscription leaves reactivation
// fully billable.
func (s *Service) ReactivateSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := sub.Version
	oldStatus := sub.Status

	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	sub.Status = StatusActive

	h := &History{
		SubscriptionID: sub.ID,
		Action:         ActionReactivated,
		OldPlanID:      sub.PlanID,
		NewPlanID:      sub.PlanID,
		OldStatus:      oldStatus,
		NewStatus:      sub.Status,
	}

	if err := s.repo.UpdateGuarded(ctx, sub, expected, h); err != nil {
		return nil, s.lockErr(err)
	}

	s.recordMutation(ActionReactivated)
	s.logger.Info("subscription reactivated", zap.String("subscription_id", sub.ID.String()))
	return sub, nil
}

// RenewSubscription rolls the subscription into its next billing period. A
// pending cancel-at-period-end wins over renewal and finalizes the
// cancellation; a pending scheduled plan change is applied at the boundary
// with zero proration.
func (s *Service) RenewSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsCanceled() {
		return nil, ErrSubscriptionCanceled
	}

	expected := sub.Version

	if sub.CancelAtPeriodEnd {
		oldStatus := sub.Status
		sub.Status = StatusCanceled
		sub.CancelAtPeriodEnd = false
		sub.ScheduledChange = nil

		h := &History{
			SubscriptionID: sub.ID,
			Action:         ActionExpired,
			OldPlanID:      sub.PlanID,
			NewPlanID:      sub.PlanID,
			OldStatus:      oldStatus,
			NewStatus:      StatusCanceled,
		}
		if err := s.repo.UpdateGuarded(ctx, sub, expected, h); err != nil {
			return nil, s.lockErr(err)
		}

		s.recordMutation(ActionExpired)
		s.logger.Info("subscription expired at period end",
			zap.String("subscription_id", sub.ID.String()),
		)
		return sub, nil
	}

	oldPlanID := sub.PlanID
	if sc := sub.ScheduledChange; sc != nil {
		sub.PlanID = sc.NewPlanID
		sub.ScheduledChange = nil
	}

	plan, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	oldStatus := sub.Status
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = plan.PeriodEnd(sub.CurrentPeriodStart)
	sub.Status = StatusActive

	h := &History{
		SubscriptionID: sub.ID,
		Action:         ActionRenewed,
		OldPlanID:      oldPlanID,
		NewPlanID:      sub.PlanID,
		OldStatus:      oldStatus,
		NewStatus:      StatusActive,
	}

	if err := s.repo.UpdateGuarded(ctx, sub, expected, h); err != nil {
		return nil, s.lockErr(err)
	}

	s.recordMutation(ActionRenewed)
	s.logger.Info("subscription renewed",
		zap.String("subscription_id", sub.ID.String()),
		zap.Time("period_end", sub.CurrentPeriodEnd),
	)
	return sub, nil
}

func (s *Service) recordMutation(action HistoryAction) {
	if s.metrics != nil {
		s.metrics.SubscriptionMutationsTotal.WithLabelValues(string(action)).Inc()
	}
}

func (s *Service) lockErr(err error) error {
	if err == ErrOptimisticLock && s.metrics != nil {
		s.metrics.LockConflictsTotal.Inc()
	}
	return err
}
