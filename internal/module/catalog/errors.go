package catalog

import "errors"

// Module errors.
var (
	ErrPlanNotFound  = errors.New("plan not found")
	ErrPlanExists    = errors.New("plan already exists")
	ErrPlanNotActive = errors.New("plan is not active")
)
