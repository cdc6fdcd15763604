package schedule

import (
	"time"

	"github.com/shopspring/decimal"

	customError "github.com/savia-coop/cartera-engine/pkg/errors"
	"github.com/savia-coop/cartera-engine/pkg/utils"
)

// Method selects the amortization convention for a schedule.
type Method string

const (
	// MethodFrench keeps the total payment constant; the interest/principal
	// mix shifts toward principal over the life of the loan.
	MethodFrench Method = "french"
	// MethodGerman keeps the principal component constant; the total
	// payment declines as interest accrues on a shrinking balance.
	MethodGerman Method = "german"
)

// Draft is one computed installment of an amortization schedule. Amounts
// are rounded to 2 decimal places and fixed at generation time.
type Draft struct {
	Number         int
	DueDate        time.Time
	Principal      decimal.Decimal
	Interest       decimal.Decimal
	Total          decimal.Decimal
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
}

var one = decimal.NewFromInt(1)

// Generate computes the full amortization schedule for a loan. Due date of
// period i is startDate plus i calendar months. A zero rate is valid and
// produces no interest under either method. Positivity of the inputs is
// enforced by the loan, not here; term and method are still guarded because
// a bad value would silently produce an empty or nonsensical schedule.
func Generate(principal decimal.Decimal, termMonths int, annualRatePercent decimal.Decimal, method Method, startDate time.Time) ([]*Draft, error) {
	if termMonths < 1 {
		return nil, customError.WrapInvalidLoanTerms("term must be at least one month")
	}

	switch method {
	case MethodFrench:
		return generateFrench(principal, termMonths, annualRatePercent, startDate), nil
	case MethodGerman:
		return generateGerman(principal, termMonths, annualRatePercent, startDate), nil
	default:
		return nil, customError.WrapUnknownMethod(string(method))
	}
}

// generateFrench produces a level-payment schedule. The final period
// overrides the principal component with the exact remaining balance so
// the cumulative principal sums back to the original loan amount; without
// it, per-period rounding drifts the closing balance away from zero.
func generateFrench(principal decimal.Decimal, termMonths int, annualRatePercent decimal.Decimal, startDate time.Time) []*Draft {
	rate := utils.MonthlyRate(annualRatePercent)
	term := decimal.NewFromInt(int64(termMonths))

	var fixedPayment decimal.Decimal
	if rate.IsZero() {
		fixedPayment = principal.Div(term)
	} else {
		// principal * r * (1+r)^n / ((1+r)^n - 1)
		compound := one.Add(rate).Pow(term)
		fixedPayment = principal.Mul(rate).Mul(compound).Div(compound.Sub(one))
	}
	fixedPayment = utils.Round2(fixedPayment)

	drafts := make([]*Draft, 0, termMonths)
	balance := utils.Round2(principal)

	for i := 1; i <= termMonths; i++ {
		interest := utils.Round2(balance.Mul(rate))

		var principalComponent, total decimal.Decimal
		if i == termMonths {
			principalComponent = balance
			total = balance.Add(interest)
		} else {
			principalComponent = fixedPayment.Sub(interest)
			total = fixedPayment
		}

		opening := balance
		balance = balance.Sub(principalComponent)

		drafts = append(drafts, &Draft{
			Number:         i,
			DueDate:        utils.DueDate(startDate, i),
			Principal:      principalComponent,
			Interest:       interest,
			Total:          total,
			OpeningBalance: opening,
			ClosingBalance: decimal.Max(decimal.Zero, balance),
		})
	}

	return drafts
}

// generateGerman produces a level-principal schedule. The split is already
// exact per period, so no final-period override is applied; any residue
// from rounding principal/term stays in the rounded components.
func generateGerman(principal decimal.Decimal, termMonths int, annualRatePercent decimal.Decimal, startDate time.Time) []*Draft {
	rate := utils.MonthlyRate(annualRatePercent)
	term := decimal.NewFromInt(int64(termMonths))

	fixedPrincipal := utils.Round2(principal.Div(term))

	drafts := make([]*Draft, 0, termMonths)
	balance := utils.Round2(principal)

	for i := 1; i <= termMonths; i++ {
		interest := utils.Round2(balance.Mul(rate))
		total := fixedPrincipal.Add(interest)

		opening := balance
		balance = balance.Sub(fixedPrincipal)

		drafts = append(drafts, &Draft{
			Number:         i,
			DueDate:        utils.DueDate(startDate, i),
			Principal:      fixedPrincipal,
			Interest:       interest,
			Total:          total,
			OpeningBalance: opening,
			ClosingBalance: decimal.Max(decimal.Zero, balance),
		})
	}

	return drafts
}
