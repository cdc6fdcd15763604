package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when comparing monetary amounts.
// An installment with an outstanding balance at or below this value
// is considered settled.
var Epsilon = decimal.NewFromFloat(0.01)

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// Round2 rounds a monetary amount to 2 decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MonthlyRate converts a nominal annual rate in percent to a monthly rate.
// Formula: annualRatePercent / 100 / 12
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(hundred).Div(monthsInYear)
}

// DueDate calculates the due date for a given period number.
// Period i falls i calendar months after the start date.
func DueDate(startDate time.Time, period int) time.Time {
	return startDate.AddDate(0, period, 0)
}

// PeriodKey returns the year-month grouping key for a due date.
func PeriodKey(t time.Time) string {
	return t.Format("2006-01")
}

// DaysBetween returns the number of whole days from one date to another,
// ignoring the time-of-day component. Negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// IsSettled reports whether an outstanding amount is within Epsilon of zero.
func IsSettled(outstanding decimal.Decimal) bool {
	return outstanding.LessThanOrEqual(Epsilon)
}
