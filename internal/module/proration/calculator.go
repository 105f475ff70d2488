// Package proration computes partial-period credits and charges for
// mid-cycle plan changes. All arithmetic is decimal; monetary results are
// rounded to 2 decimal places, half away from zero. That is the single
// rounding rule for the whole engine.
package proration

import (
	"time"

	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

// Result holds the outcome of a proration calculation. NetAmount is positive
// when the customer owes money and negative when the customer is credited.
type Result struct {
	CreditAmount  decimal.Decimal `json:"credit_amount"`
	ChargeAmount  decimal.Decimal `json:"charge_amount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	DaysRemaining int             `json:"days_remaining"`
	DaysInPeriod  int             `json:"days_in_period"`
}

// Calculator converts plan changes into credit/charge amounts. It is pure and
// stateless; inputs are never validated against the period bounds, so a
// changeDate outside [periodStart, periodEnd] yields ratios outside [0, 1].
type Calculator struct{}

// NewCalculator creates a new proration calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateProration computes the credit for the unused remainder of the old
// plan and the charge for the same remainder on the new plan.
func (c *Calculator) CalculateProration(oldPrice, newPrice decimal.Decimal, periodStart, periodEnd, changeDate time.Time) Result {
	ratio := unusedRatio(periodStart, periodEnd, changeDate)

	credit := oldPrice.Mul(ratio).Round(2)
	charge := newPrice.Mul(ratio).Round(2)

	return Result{
		CreditAmount:  credit,
		ChargeAmount:  charge,
		NetAmount:     charge.Sub(credit),
		DaysRemaining: wholeDays(changeDate, periodEnd),
		DaysInPeriod:  wholeDays(periodStart, periodEnd),
	}
}

// CalculateCancellationCredit computes the credit owed for the unused
// remainder of a canceled plan.
func (c *Calculator) CalculateCancellationCredit(price decimal.Decimal, periodStart, periodEnd, cancelDate time.Time) Result {
	ratio := unusedRatio(periodStart, periodEnd, cancelDate)
	credit := price.Mul(ratio).Round(2)

	return Result{
		CreditAmount:  credit,
		ChargeAmount:  decimal.Zero,
		NetAmount:     credit.Neg(),
		DaysRemaining: wholeDays(cancelDate, periodEnd),
		DaysInPeriod:  wholeDays(periodStart, periodEnd),
	}
}

// CalculatePartialPeriodCharge computes the charge for a subscription that
// starts mid-period: the elapsed fraction from startDate to periodEnd.
func (c *Calculator) CalculatePartialPeriodCharge(price decimal.Decimal, periodStart, periodEnd, startDate time.Time) Result {
	ratio := unusedRatio(periodStart, periodEnd, startDate)
	charge := price.Mul(ratio).Round(2)

	return Result{
		CreditAmount:  decimal.Zero,
		ChargeAmount:  charge,
		NetAmount:     charge,
		DaysRemaining: wholeDays(startDate, periodEnd),
		DaysInPeriod:  wholeDays(periodStart, periodEnd),
	}
}

// unusedRatio is secondsRemaining / secondsInPeriod, at decimal precision.
func unusedRatio(periodStart, periodEnd, at time.Time) decimal.Decimal {
	secondsInPeriod := periodEnd.Sub(periodStart).Seconds()
	if secondsInPeriod == 0 {
		return decimal.Zero
	}
	secondsRemaining := periodEnd.Sub(at).Seconds()
	return decimal.NewFromFloat(secondsRemaining).Div(decimal.NewFromFloat(secondsInPeriod))
}

// wholeDays converts a span to days, rounded to the nearest whole day.
func wholeDays(from, to time.Time) int {
	seconds := decimal.NewFromFloat(to.Sub(from).Seconds())
	return int(seconds.Div(decimal.NewFromInt(secondsPerDay)).Round(0).IntPart())
}
