package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savia-coop/cartera-engine/pkg/utils"
)

const (
	InstallmentStatusPending = "pending"
	InstallmentStatusPartial = "partial"
	InstallmentStatusPaid    = "paid"
	InstallmentStatusOverdue = "overdue"
)

// Installment is one row of a loan's amortization schedule. Its monetary
// components are fixed at generation time and never mutated; everything
// payment-dependent lives in InstallmentState and is recomputed on demand.
type Installment struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	LoanID         uuid.UUID       `json:"loan_id" db:"loan_id"`
	Number         int             `json:"number" db:"number"`
	DueDate        time.Time       `json:"due_date" db:"due_date"`
	Principal      decimal.Decimal `json:"principal" db:"principal"`
	Interest       decimal.Decimal `json:"interest" db:"interest"`
	Total          decimal.Decimal `json:"total" db:"total"`
	OpeningBalance decimal.Decimal `json:"opening_balance" db:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance" db:"closing_balance"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// InstallmentState holds the payment-derived figures of an installment.
// It is a pure derivation: recomputing it from the same payment set always
// yields the same result.
type InstallmentState struct {
	PaidToDate  decimal.Decimal `json:"paid_to_date"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Status      string          `json:"status"`
	DaysOverdue int             `json:"days_overdue"`
}

// InstallmentBalance pairs an installment with the paid-to-date sum of its
// payments, as produced by the portfolio scan.
type InstallmentBalance struct {
	Installment
	PaidToDate decimal.Decimal `db:"paid_to_date"`
}

// State derives the installment's current figures from its payment set.
func (i *Installment) State(payments []*Payment, today time.Time) InstallmentState {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	return i.StateFromPaid(paid, today)
}

// StateFromPaid derives the installment's figures from an already-summed
// paid-to-date amount.
//
// paid: outstanding within epsilon of zero. Past the due date, an untouched
// installment is overdue and a partially covered one is partial; before the
// due date the same split yields partial or pending. Days overdue only
// counts once the due date is actually past.
func (i *Installment) StateFromPaid(paid decimal.Decimal, today time.Time) InstallmentState {
	state := InstallmentState{
		PaidToDate:  paid,
		Outstanding: i.Total.Sub(paid),
	}

	duePast := utils.DaysBetween(i.DueDate, today) > 0

	switch {
	case utils.IsSettled(state.Outstanding):
		state.Status = InstallmentStatusPaid
	case duePast && paid.IsZero():
		state.Status = InstallmentStatusOverdue
	case paid.GreaterThan(decimal.Zero):
		state.Status = InstallmentStatusPartial
	default:
		state.Status = InstallmentStatusPending
	}

	if duePast && (state.Status == InstallmentStatusOverdue || state.Status == InstallmentStatusPartial) {
		state.DaysOverdue = utils.DaysBetween(i.DueDate, today)
	}

	return state
}

// InstallmentResponse is an installment together with its derived state.
// SuggestedAmount mirrors the outstanding balance so clients can prefill
// a payment form.
type InstallmentResponse struct {
	Installment     *Installment     `json:"installment"`
	State           InstallmentState `json:"state"`
	SuggestedAmount decimal.Decimal  `json:"suggested_amount"`
}

type ScheduleResponse struct {
	LoanID       uuid.UUID              `json:"loan_id"`
	Installments []*InstallmentResponse `json:"installments"`
}
