package subscription

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rebillhq/server/internal/shared/database"
)

// Status represents the status of a subscription.
type Status string

const (
	StatusTrial    Status = "trial"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// ScheduledChange is a deferred plan change waiting to be applied at the next
// period boundary.
type ScheduledChange struct {
	NewPlanID   string    `json:"new_plan_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Value implements driver.Valuer.
func (sc ScheduledChange) Value() (driver.Value, error) {
	return json.Marshal(sc)
}

// Scan implements sql.Scanner.
func (sc *ScheduledChange) Scan(value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
	return json.Unmarshal(data, sc)
}

// GormDataType tells gorm the column type to use.
func (ScheduledChange) GormDataType() string {
	return "jsonb"
}

// Subscription represents a user's recurring subscription to a plan. Rows are
// never deleted; cancellation is a status transition. All mutations go through
// the version-guarded operations on the manager.
type Subscription struct {
	ID                 uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	UserID             uuid.UUID        `json:"user_id" gorm:"type:uuid;not null;index"`
	PlanID             string           `json:"plan_id" gorm:"not null"`
	Status             Status           `json:"status" gorm:"not null"`
	CurrentPeriodStart time.Time        `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time        `json:"current_period_end" gorm:"not null"`
	TrialEnd           *time.Time       `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool             `json:"cancel_at_period_end" gorm:"default:false"`
	CanceledAt         *time.Time       `json:"canceled_at,omitempty"`
	ScheduledChange    *ScheduledChange `json:"scheduled_change,omitempty"`
	Metadata           database.JSONMap `json:"metadata,omitempty"`
	Version            int64            `json:"version" gorm:"not null;default:0"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive returns true if the subscription is active or in trial.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrial
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// HistoryAction identifies the mutation recorded by a history row.
type HistoryAction string

const (
	ActionCreated             HistoryAction = "created"
	ActionPlanChanged         HistoryAction = "plan_changed"
	ActionCanceledImmediate   HistoryAction = "canceled_immediate"
	ActionCanceledAtPeriodEnd HistoryAction = "canceled_at_period_end"
	ActionReactivated         HistoryAction = "reactivated"
	ActionRenewed             HistoryAction = "renewed"
	ActionExpired             HistoryAction = "expired"
)

// History is the append-only audit record of subscription mutations. Exactly
// one row is written per successful mutation, in the same transaction as the
// version bump; rows are never updated or removed.
type History struct {
	ID              int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	SubscriptionID  uuid.UUID       `json:"subscription_id" gorm:"type:uuid;not null;index"`
	Action          HistoryAction   `json:"action" gorm:"not null"`
	OldPlanID       string          `json:"old_plan_id,omitempty"`
	NewPlanID       string          `json:"new_plan_id,omitempty"`
	OldStatus       Status          `json:"old_status,omitempty"`
	NewStatus       Status          `json:"new_status,omitempty"`
	ProrationAmount decimal.Decimal `json:"proration_amount" gorm:"type:numeric(10,2)"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TableName returns the database table name.
func (History) TableName() string {
	return "subscription_history"
}
