package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for subscription data access. Mutations are
// atomic: the row write and its history row share one transaction, so the
// version counter and the history log can never diverge.
type Repository interface {
	// CreateSubscription inserts a subscription at version 0 together with its
	// `created` history row.
	CreateSubscription(ctx context.Context, sub *Subscription, h *History) error

	// UpdateGuarded applies sub's current field values with a conditional
	// UPDATE ... WHERE id = ? AND version = expectedVersion, bumps the version
	// and appends the history row, all in one transaction. It returns
	// ErrOptimisticLock when the row moved on from expectedVersion; the caller
	// decides whether to re-read and retry.
	UpdateGuarded(ctx context.Context, sub *Subscription, expectedVersion int64, h *History) error

	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error)
	ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]*History, error)

	// ListDueRenewals returns IDs of non-canceled subscriptions whose current
	// period has ended as of asOf.
	ListDueRenewals(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new subscription repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateSubscription(ctx context.Context, sub *Subscription, h *History) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		if err := tx.Create(h).Error; err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
}

func (r *repository) UpdateGuarded(ctx context.Context, sub *Subscription, expectedVersion int64, h *History) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Updates with a map so zero values (cleared flags, nil pointers) are
		// written too.
		res := tx.Model(&Subscription{}).
			Where("id = ? AND version = ?", sub.ID, expectedVersion).
			Updates(map[string]any{
				"plan_id":              sub.PlanID,
				"status":               sub.Status,
				"current_period_start": sub.CurrentPeriodStart,
				"current_period_end":   sub.CurrentPeriodEnd,
				"trial_end":            sub.TrialEnd,
				"cancel_at_period_end": sub.CancelAtPeriodEnd,
				"canceled_at":          sub.CanceledAt,
				"scheduled_change":     sub.ScheduledChange,
				"metadata":             sub.Metadata,
				"version":              expectedVersion + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("update subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrOptimisticLock
		}
		if err := tx.Create(h).Error; err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sub.Version = expectedVersion + 1
	return nil
}

func (r *repository) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []Status{StatusTrial, StatusActive}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list user subscriptions: %w", err)
	}
	return subs, nil
}

func (r *repository) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]*History, error) {
	var rows []*History
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rows, nil
}

func (r *repository) ListDueRenewals(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("status <> ? AND current_period_end <= ?", StatusCanceled, asOf).
		Order("current_period_end ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list due renewals: %w", err)
	}
	return ids, nil
}
