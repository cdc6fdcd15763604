package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/savia-coop/cartera-engine/internal/domain"
)

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create creates a new loan
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByID retrieves a loan by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// UpdateStatus moves a loan to a new lifecycle state
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error

	// ListByStatus retrieves all loans in a given state
	ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error)

	// CountByGuarantor counts loans backed by a guarantor in any of the
	// given states, excluding one loan (the one being checked)
	CountByGuarantor(ctx context.Context, guarantorID uuid.UUID, statuses []string, exclude uuid.UUID) (int, error)

	// NextNumber reserves the next human-readable loan number
	NextNumber(ctx context.Context) (string, error)
}

// InstallmentRepository defines the interface for schedule data operations
type InstallmentRepository interface {
	// ReplaceForLoan atomically deletes the loan's installments and
	// inserts the new set; a half-done schedule is never observable
	ReplaceForLoan(ctx context.Context, loanID uuid.UUID, installments []*domain.Installment) error

	// DeleteForLoan removes the loan's schedule
	DeleteForLoan(ctx context.Context, loanID uuid.UUID) error

	// GetByID retrieves an installment by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error)

	// ListByLoan retrieves a loan's installments ordered by number
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error)

	// ListDueBefore retrieves all installments across all loans with a due
	// date strictly before the cut-off, each with its paid-to-date sum
	ListDueBefore(ctx context.Context, asOf time.Time) ([]*domain.InstallmentBalance, error)
}

// PaymentRepository defines the interface for payment data operations
type PaymentRepository interface {
	// Create inserts a payment. The installment row is locked and the
	// outstanding balance re-checked inside the transaction, so racing
	// submissions against the same installment cannot double-allocate.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	// Delete removes a payment
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByInstallment retrieves all payments applied to an installment
	ListByInstallment(ctx context.Context, installmentID uuid.UUID) ([]*domain.Payment, error)

	// ListByLoan retrieves all payments across a loan's installments
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Payment, error)

	// CountInterestOnlyByLoan counts the loan's interest-only payments
	CountInterestOnlyByLoan(ctx context.Context, loanID uuid.UUID) (int, error)

	// NextNumber reserves the next human-readable payment number
	NextNumber(ctx context.Context) (string, error)
}
