package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ServiceInterface defines the plan catalog interface.
type ServiceInterface interface {
	ListPlans(ctx context.Context) ([]*Plan, error)
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	CreatePlan(ctx context.Context, plan *Plan) error
	DeactivatePlan(ctx context.Context, planID string) error
}

// Service implements the plan catalog. Plans are read-mostly, so GetPlan goes
// through a Redis read-through cache; cache errors fall back to the database.
type Service struct {
	repo     Repository
	cache    redis.UniversalClient
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService creates a new catalog service. cache may be nil to disable caching.
func NewService(repo Repository, cache redis.UniversalClient, cacheTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// ListPlans returns all active plans.
func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListActivePlans(ctx)
}

// GetPlan returns a plan by ID, active or not.
func (s *Service) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	if plan := s.cachedPlan(ctx, planID); plan != nil {
		return plan, nil
	}

	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	s.cachePlan(ctx, plan)
	return plan, nil
}

// CreatePlan registers a new plan.
func (s *Service) CreatePlan(ctx context.Context, plan *Plan) error {
	if !plan.BillingPeriod.Valid() {
		return fmt.Errorf("unknown billing period %q", plan.BillingPeriod)
	}
	if plan.TrialDays < 0 {
		return fmt.Errorf("trial days must not be negative")
	}
	if plan.Price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	return s.repo.CreatePlan(ctx, plan)
}

// DeactivatePlan soft-deactivates a plan. Existing subscriptions keep
// referencing it; it just stops being offered.
func (s *Service) DeactivatePlan(ctx context.Context, planID string) error {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	plan.Active = false
	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return err
	}

	s.invalidatePlan(ctx, planID)
	return nil
}

// --- Cache helpers ---

func planCacheKey(planID string) string {
	return "plan:" + planID
}

func (s *Service) cachedPlan(ctx context.Context, planID string) *Plan {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, planCacheKey(planID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("plan cache read failed, using DB", zap.Error(err))
		}
		return nil
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		s.logger.Warn("plan cache entry corrupt, using DB", zap.Error(err))
		return nil
	}
	return &plan
}

func (s *Service) cachePlan(ctx context.Context, plan *Plan) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, planCacheKey(plan.ID), data, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("plan cache write failed", zap.Error(err))
	}
}

func (s *Service) invalidatePlan(ctx context.Context, planID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, planCacheKey(planID)).Err(); err != nil {
		s.logger.Warn("plan cache invalidation failed", zap.Error(err))
	}
}
