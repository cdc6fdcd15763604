package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LoanStatusDraft     = "draft"
	LoanStatusApproved  = "approved"
	LoanStatusActive    = "active"
	LoanStatusPaid      = "paid"
	LoanStatusCancelled = "cancelled"
)

// Loan represents a credit with its agreed terms. The schedule exists only
// while the loan is active or paid; returning to draft destroys it.
type Loan struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Number      string          `json:"number" db:"number"`
	BorrowerID  uuid.UUID       `json:"borrower_id" db:"borrower_id"`
	GuarantorID *uuid.UUID      `json:"guarantor_id,omitempty" db:"guarantor_id"`
	Principal   decimal.Decimal `json:"principal" db:"principal"`
	TermMonths  int             `json:"term_months" db:"term_months"`
	AnnualRate  decimal.Decimal `json:"annual_rate" db:"annual_rate"`
	Method      string          `json:"method" db:"method"`
	Purpose     string          `json:"purpose,omitempty" db:"purpose"`
	StartDate   time.Time       `json:"start_date" db:"start_date"`
	Status      string          `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	BorrowerID  uuid.UUID       `json:"borrower_id" validate:"required"`
	GuarantorID *uuid.UUID      `json:"guarantor_id,omitempty"`
	Principal   decimal.Decimal `json:"principal" validate:"required,decimal_gt=0"`
	TermMonths  int             `json:"term_months" validate:"required,gt=0"`
	AnnualRate  decimal.Decimal `json:"annual_rate" validate:"decimal_gte=0"`
	Method      string          `json:"method" validate:"omitempty,oneof=french german"`
	Purpose     string          `json:"purpose,omitempty"`
	StartDate   string          `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// LoanSummary carries the loan-level figures recomputed from the
// installments and payments.
type LoanSummary struct {
	TotalDue        decimal.Decimal `json:"total_due"`
	TotalCollected  decimal.Decimal `json:"total_collected"`
	Outstanding     decimal.Decimal `json:"outstanding"`
	CapitalBalance  decimal.Decimal `json:"capital_balance"`
	HasOverdue      bool            `json:"has_overdue"`
	NumInstallments int             `json:"num_installments"`
}

type LoanResponse struct {
	Loan    *Loan        `json:"loan"`
	Summary *LoanSummary `json:"summary"`
}

// VencidaRow is one period of the portfolio-wide overdue report.
type VencidaRow struct {
	Period      string          `json:"period"`
	NumLoans    int             `json:"num_loans"`
	AmountOwing decimal.Decimal `json:"amount_owing"`
}
