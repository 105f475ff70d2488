package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rebillhq/server/internal/shared/database"
)

// BillingPeriod represents the recurring billing cadence.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Valid reports whether the billing period is a known value.
func (p BillingPeriod) Valid() bool {
	return p == BillingPeriodMonthly || p == BillingPeriodYearly
}

// Plan represents a subscription plan. Plans are immutable once referenced by
// a subscription; deactivation flips the Active flag, rows are never deleted.
type Plan struct {
	ID            string           `json:"id" gorm:"primaryKey"`
	Name          string           `json:"name" gorm:"not null"`
	BillingPeriod BillingPeriod    `json:"billing_period" gorm:"not null"`
	Price         decimal.Decimal  `json:"price" gorm:"type:numeric(10,2);not null"`
	TrialDays     int              `json:"trial_days" gorm:"not null;default:0"`
	Features      database.JSONMap `json:"features,omitempty"`
	Active        bool             `json:"active" gorm:"default:true"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// HasTrial returns true if the plan grants a trial period.
func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// PeriodEnd returns the end of a billing period starting at start.
func (p *Plan) PeriodEnd(start time.Time) time.Time {
	if p.BillingPeriod == BillingPeriodYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
