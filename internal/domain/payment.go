package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is money received against a single installment. LoanID is carried
// redundantly for query convenience. The allocation split and interest-only
// flag are derived from the installment's fixed interest component at
// registration time and stored for reporting.
type Payment struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Number           string          `json:"number" db:"number"`
	InstallmentID    uuid.UUID       `json:"installment_id" db:"installment_id"`
	LoanID           uuid.UUID       `json:"loan_id" db:"loan_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Date             time.Time       `json:"date" db:"date"`
	Reference        string          `json:"reference,omitempty" db:"reference"`
	Notes            string          `json:"notes,omitempty" db:"notes"`
	InterestApplied  decimal.Decimal `json:"interest_applied" db:"interest_applied"`
	PrincipalApplied decimal.Decimal `json:"principal_applied" db:"principal_applied"`
	InterestOnly     bool            `json:"interest_only" db:"interest_only"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

var interestOnlyTolerance = decimal.NewFromFloat(0.05)

// Allocate splits a payment between interest and principal, interest first.
// The ordering is a lender-protection policy: principal is only reduced
// once the period's interest is fully covered.
func Allocate(amount, interestComponent decimal.Decimal) (interestApplied, principalApplied decimal.Decimal) {
	interestApplied = decimal.Min(amount, interestComponent)
	principalApplied = amount.Sub(interestApplied)
	return interestApplied, principalApplied
}

// ClassifyInterestOnly reports whether a payment covers approximately only
// the interest component of its installment, within a 5% tolerance.
func ClassifyInterestOnly(amount, interestComponent decimal.Decimal) bool {
	tolerance := interestComponent.Mul(interestOnlyTolerance)
	return amount.Sub(interestComponent).Abs().LessThanOrEqual(tolerance)
}

type RegisterPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required,decimal_gt=0"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// RegisterPaymentResponse returns the stored payment together with its
// allocation. Warning carries the advisory below-interest notice; it never
// blocks the registration.
type RegisterPaymentResponse struct {
	Payment *Payment `json:"payment"`
	Warning string   `json:"warning,omitempty"`
}
