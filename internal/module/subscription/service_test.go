package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rebillhq/server/internal/module/catalog"
	"github.com/rebillhq/server/internal/module/proration"
)

// fakeRepo is an in-memory repository with real version-guard semantics. The
// optional onGet hook runs after every read, which lets a test hold two
// writers at the same observed version.
type fakeRepo struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]Subscription
	history []History
	onGet   func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[uuid.UUID]Subscription)}
}

func (r *fakeRepo) CreateSubscription(ctx context.Context, sub *Subscription, h *History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = *sub
	r.history = append(r.history, *h)
	return nil
}

func (r *fakeRepo) UpdateGuarded(ctx context.Context, sub *Subscription, expectedVersion int64, h *History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if cur.Version != expectedVersion {
		return ErrOptimisticLock
	}
	next := *sub
	next.Version = expectedVersion + 1
	r.subs[sub.ID] = next
	r.history = append(r.history, *h)
	sub.Version = next.Version
	return nil
}

func (r *fakeRepo) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	if r.onGet != nil {
		r.onGet()
	}
	return &sub, nil
}

func (r *fakeRepo) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.IsActive() {
			s := sub
			return &s, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *fakeRepo) ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			s := sub
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]*History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*History
	for i := range r.history {
		if r.history[i].SubscriptionID == subscriptionID {
			h := r.history[i]
			out = append(out, &h)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListDueRenewals(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, sub := range r.subs {
		if !sub.IsCanceled() && !sub.CurrentPeriodEnd.After(asOf) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakePlans struct {
	plans map[string]*catalog.Plan
}

func (f *fakePlans) GetPlan(ctx context.Context, planID string) (*catalog.Plan, error) {
	plan, ok := f.plans[planID]
	if !ok {
		return nil, catalog.ErrPlanNotFound
	}
	return plan, nil
}

func monthlyPlan(id string, price string, trialDays int) *catalog.Plan {
	return &catalog.Plan{
		ID:            id,
		Name:          id,
		BillingPeriod: catalog.BillingPeriodMonthly,
		Price:         decimal.RequireFromString(price),
		TrialDays:     trialDays,
		Active:        true,
	}
}

func newTestService(repo *fakeRepo, plans ...*catalog.Plan) *Service {
	src := &fakePlans{plans: make(map[string]*catalog.Plan)}
	for _, p := range plans {
		src.plans[p.ID] = p
	}
	return NewService(repo, src, proration.NewCalculator(), nil, zap.NewNop())
}

func TestCreateSubscriptionWithTrial(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 7))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic", start)
	require.NoError(t, err)

	assert.Equal(t, StatusTrial, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), *sub.TrialEnd)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodEnd)
	assert.Equal(t, int64(0), sub.Version)

	history, err := svc.GetHistory(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ActionCreated, history[0].Action)
	assert.Equal(t, StatusTrial, history[0].NewStatus)
}

func TestCreateSubscriptionWithoutTrial(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0))

	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic", start)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, sub.Status)
	assert.Nil(t, sub.TrialEnd)
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodEnd)
}

func TestCreateSubscriptionUnknownPlan(t *testing.T) {
	svc := newTestService(newFakeRepo())
	_, err := svc.CreateSubscription(context.Background(), uuid.New(), "missing", time.Now())
	assert.ErrorIs(t, err, catalog.ErrPlanNotFound)
}

func TestCreateSubscriptionInactivePlan(t *testing.T) {
	retired := monthlyPlan("retired", "10.00", 0)
	retired.Active = false
	svc := newTestService(newFakeRepo(), retired)

	_, err := svc.CreateSubscription(context.Background(), uuid.New(), "retired", time.Now())
	assert.ErrorIs(t, err, catalog.ErrPlanNotActive)
}

func TestChangePlanImmediateProration(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo,
		monthlyPlan("basic", "30.00", 0),
		monthlyPlan("pro", "60.00", 0),
	)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic", start)
	require.NoError(t, err)

	// Halfway through the 31-day January period.
	svc.now = func() time.Time { return time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC) }

	updated, res, err := svc.ChangePlan(context.Background(), sub.ID, "pro", true)
	require.NoError(t, err)

	assert.Equal(t, "pro", updated.PlanID)
	assert.Equal(t, int64(1), updated.Version)
	assert.Nil(t, updated.ScheduledChange)
	assert.True(t, res.NetAmount.Equal(decimal.RequireFromString("15.00")),
		"net was %s", res.NetAmount)

	history, err := svc.GetHistory(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	change := history[1]
	assert.Equal(t, ActionPlanChanged, change.Action)
	assert.Equal(t, "basic", change.OldPlanID)
	assert.Equal(t, "pro", change.NewPlanID)
	assert.True(t, change.ProrationAmount.Equal(res.NetAmount))
}

func TestChangePlanDeferred(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo,
		monthlyPlan("basic", "30.00", 0),
		monthlyPlan("pro", "60.00", 0),
	)

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	updated, res, err := svc.ChangePlan(context.Background(), sub.ID, "pro", false)
	require.NoError(t, err)

	assert.Equal(t, "basic", updated.PlanID, "deferred change must not swap the plan yet")
	require.NotNil(t, updated.ScheduledChange)
	assert.Equal(t, "pro", updated.ScheduledChange.NewPlanID)
	assert.True(t, res.NetAmount.IsZero())
	assert.Equal(t, int64(1), updated.Version)
}

func TestChangePlanIncompatibleBillingPeriod(t *testing.T) {
	yearly := &catalog.Plan{
		ID:            "annual",
		Name:          "annual",
		BillingPeriod: catalog.BillingPeriodYearly,
		Price:         decimal.RequireFromString("300.00"),
		Active:        true,
	}
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0), yearly)

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, _, err = svc.ChangePlan(context.Background(), sub.ID, "annual", true)
	assert.ErrorIs(t, err, ErrIncompatibleBillingPeriod)
}

func TestChangePlanConcurrentWritersExactlyOneWins(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo,
		monthlyPlan("basic", "30.00", 0),
		monthlyPlan("pro", "60.00", 0),
		monthlyPlan("max", "90.00", 0),
	)

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Hold both writers until each has read the row at version 0.
	var barrier sync.WaitGroup
	barrier.Add(2)
	repo.onGet = func() {
		barrier.Done()
		barrier.Wait()
	}

	errs := make(chan error, 2)
	go func() {
		_, _, err := svc.ChangePlan(context.Background(), sub.ID, "pro", true)
		errs <- err
	}()
	go func() {
		_, _, err := svc.ChangePlan(context.Background(), sub.ID, "max", true)
		errs <- err
	}()

	var conflicts, wins int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			wins++
		case err == ErrOptimisticLock:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	repo.onGet = nil
	final, err := svc.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), final.Version, "exactly one version bump")

	history, err := svc.GetHistory(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "created plus exactly one change")
}

func TestCancelSubscriptionImmediate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0))

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Halfway through the 31-day period: half the price comes back as credit.
	svc.now = func() time.Time {
		return time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)
	}

	canceled, err := svc.CancelSubscription(context.Background(), sub.ID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, canceled.Status)
	assert.NotNil(t, canceled.CanceledAt)

	history, err := svc.GetHistory(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionCanceledImmediate, history[1].Action)
	assert.Equal(t, "15.00", history[1].ProrationAmount.StringFixed(2))

	// Every mutation on a canceled subscription is rejected.
	_, err = svc.CancelSubscription(context.Background(), sub.ID, true)
	assert.ErrorIs(t, err, ErrSubscriptionCanceled)
	_, _, err = svc.ChangePlan(context.Background(), sub.ID, "basic", true)
	assert.ErrorIs(t, err, ErrSubscriptionCanceled)
	_, err = svc.RenewSubscription(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrSubscriptionCanceled)
}

func TestCancelSubscriptionAtPeriodEnd(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0))

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	canceled, err := svc.CancelSubscription(context.Background(), sub.ID, false)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, canceled.Status, "status stays until the period ends")
	assert.True(t, canceled.CancelAtPeriodEnd)
	assert.NotNil(t, canceled.CanceledAt)
}

func TestReactivateSubscription(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 7))

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = svc.CancelSubscription(context.Background(), sub.ID, false)
	require.NoError(t, err)

	reactivated, err := svc.ReactivateSubscription(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, reactivated.Status)
	assert.False(t, reactivated.CancelAtPeriodEnd)
	assert.Nil(t, reactivated.CanceledAt)
	assert.Equal(t, int64(2), reactivated.Version)
}

func TestRenewSubscriptionRollsPeriod(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0))

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	renewed, err := svc.RenewSubscription(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), renewed.CurrentPeriodStart)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), renewed.CurrentPeriodEnd)
	assert.Equal(t, StatusActive, renewed.Status)
}

func TestRenewSubscriptionAppliesScheduledChange(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo,
		monthlyPlan("basic", "30.00", 0),
		monthlyPlan("pro", "60.00", 0),
	)

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, _, err = svc.ChangePlan(context.Background(), sub.ID, "pro", false)
	require.NoError(t, err)

	renewed, err := svc.RenewSubscription(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, "pro", renewed.PlanID)
	assert.Nil(t, renewed.ScheduledChange)

	history, err := svc.GetHistory(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	renewal := history[2]
	assert.Equal(t, ActionRenewed, renewal.Action)
	assert.Equal(t, "basic", renewal.OldPlanID)
	assert.Equal(t, "pro", renewal.NewPlanID)
	assert.True(t, renewal.ProrationAmount.IsZero(), "boundary changes are not prorated")
}

func TestRenewSubscriptionFinalizesPendingCancel(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0))

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = svc.CancelSubscription(context.Background(), sub.ID, false)
	require.NoError(t, err)

	finalized, err := svc.RenewSubscription(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, finalized.Status)
	assert.False(t, finalized.CancelAtPeriodEnd)

	history, err := svc.GetHistory(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ActionExpired, history[2].Action)
}

func TestListDueRenewals(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, monthlyPlan("basic", "30.00", 0))

	sub, err := svc.CreateSubscription(context.Background(), uuid.New(), "basic",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	due, err := svc.ListDueRenewals(context.Background(), time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sub.ID, due[0])

	due, err = svc.ListDueRenewals(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
