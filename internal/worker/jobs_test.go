package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rebillhq/server/internal/module/catalog"
	"github.com/rebillhq/server/internal/module/invoice"
	"github.com/rebillhq/server/internal/module/payment"
	"github.com/rebillhq/server/internal/module/subscription"
)

// The stubs embed the service interfaces and override only what the sweep
// touches; calling anything else panics the test.

type stubSubs struct {
	subscription.ServiceInterface
	due   []uuid.UUID
	subs  map[uuid.UUID]*subscription.Subscription
	renew func(id uuid.UUID) (*subscription.Subscription, error)
}

func (s *stubSubs) ListDueRenewals(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	return s.due, nil
}

func (s *stubSubs) RenewSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	if s.renew != nil {
		return s.renew(id)
	}
	return s.subs[id], nil
}

type stubPlans struct {
	plans map[string]*catalog.Plan
}

func (s *stubPlans) GetPlan(ctx context.Context, planID string) (*catalog.Plan, error) {
	p, ok := s.plans[planID]
	if !ok {
		return nil, catalog.ErrPlanNotFound
	}
	return p, nil
}

type stubInvoices struct {
	invoice.ServiceInterface
	created []*invoice.Invoice
}

func (s *stubInvoices) CreateInvoice(ctx context.Context, subscriptionID, userID uuid.UUID, amount decimal.Decimal, description string, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Amount:         amount,
		Status:         invoice.StatusOpen,
		Description:    description,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	s.created = append(s.created, inv)
	return inv, nil
}

type stubPayments struct {
	payment.ServiceInterface
	created   []*payment.Payment
	processed []uuid.UUID
	retried   int
}

func (s *stubPayments) CreatePayment(ctx context.Context, invoiceID, subscriptionID, userID uuid.UUID, amount decimal.Decimal, method string) (*payment.Payment, error) {
	p := &payment.Payment{
		ID:             uuid.New(),
		InvoiceID:      invoiceID,
		SubscriptionID: subscriptionID,
		UserID:         userID,
		Amount:         amount,
		Status:         payment.StatusPending,
		Method:         method,
	}
	s.created = append(s.created, p)
	return p, nil
}

func (s *stubPayments) ProcessPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	s.processed = append(s.processed, id)
	return &payment.Payment{ID: id, Status: payment.StatusSucceeded}, nil
}

func (s *stubPayments) RetryFailedPayments(ctx context.Context) (int, error) {
	s.retried++
	return 2, nil
}

func activeSub(planID string) *subscription.Subscription {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return &subscription.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             planID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
	}
}

func TestRenewalSweepBillsRenewedSubscription(t *testing.T) {
	sub := activeSub("basic")
	subs := &stubSubs{
		due:  []uuid.UUID{sub.ID},
		subs: map[uuid.UUID]*subscription.Subscription{sub.ID: sub},
	}
	plans := &stubPlans{plans: map[string]*catalog.Plan{
		"basic": {
			ID:            "basic",
			Name:          "Basic",
			BillingPeriod: catalog.BillingPeriodMonthly,
			Price:         decimal.RequireFromString("30.00"),
			Active:        true,
		},
	}}
	invoices := &stubInvoices{}
	payments := &stubPayments{}

	sweep := NewRenewalSweep(subs, plans, invoices, payments, zap.NewNop())
	sweep.Run(context.Background())

	require.Len(t, invoices.created, 1)
	inv := invoices.created[0]
	assert.Equal(t, sub.ID, inv.SubscriptionID)
	assert.True(t, inv.Amount.Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, sub.CurrentPeriodStart, inv.PeriodStart)

	require.Len(t, payments.created, 1)
	assert.Equal(t, inv.ID, payments.created[0].InvoiceID)
	require.Len(t, payments.processed, 1)
	assert.Equal(t, payments.created[0].ID, payments.processed[0])
}

func TestRenewalSweepSkipsFinalizedCancellations(t *testing.T) {
	sub := activeSub("basic")
	sub.Status = subscription.StatusCanceled
	subs := &stubSubs{
		due:  []uuid.UUID{sub.ID},
		subs: map[uuid.UUID]*subscription.Subscription{sub.ID: sub},
	}
	invoices := &stubInvoices{}
	payments := &stubPayments{}

	sweep := NewRenewalSweep(subs, &stubPlans{}, invoices, payments, zap.NewNop())
	sweep.Run(context.Background())

	assert.Empty(t, invoices.created, "a finalized cancellation is not billed")
	assert.Empty(t, payments.created)
}

func TestRenewalSweepToleratesLostWriteRace(t *testing.T) {
	id := uuid.New()
	subs := &stubSubs{
		due: []uuid.UUID{id},
		renew: func(uuid.UUID) (*subscription.Subscription, error) {
			return nil, subscription.ErrOptimisticLock
		},
	}
	invoices := &stubInvoices{}
	payments := &stubPayments{}

	sweep := NewRenewalSweep(subs, &stubPlans{}, invoices, payments, zap.NewNop())
	sweep.Run(context.Background())

	assert.Empty(t, invoices.created)
	assert.Empty(t, payments.created)
}

func TestRetrySweepRuns(t *testing.T) {
	payments := &stubPayments{}
	sweep := NewRetrySweep(payments, zap.NewNop())
	sweep.Run(context.Background())
	assert.Equal(t, 1, payments.retried)
}
