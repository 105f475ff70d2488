package subscription

import "errors"

// Module errors.
var (
	ErrSubscriptionNotFound       = errors.New("subscription not found")
	ErrSubscriptionCanceled       = errors.New("subscription is canceled")
	ErrIncompatibleBillingPeriod  = errors.New("plans have incompatible billing periods")
	ErrOptimisticLock             = errors.New("subscription was modified concurrently")
)
