package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/savia-coop/cartera-engine/internal/domain"
	customError "github.com/savia-coop/cartera-engine/pkg/errors"
	"github.com/savia-coop/cartera-engine/pkg/utils"
)

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create inserts the payment after re-checking the installment's
// outstanding balance under a row lock. The service validates before
// calling, but only this re-check is race-free: two submissions passing
// the service check concurrently would otherwise both be accepted.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total decimal.Decimal
	err = tx.GetContext(ctx, &total,
		`SELECT total FROM installments WHERE id = $1 FOR UPDATE`,
		payment.InstallmentID,
	)
	if err != nil {
		return err
	}

	var paid decimal.Decimal
	err = tx.GetContext(ctx, &paid,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE installment_id = $1`,
		payment.InstallmentID,
	)
	if err != nil {
		return err
	}

	outstanding := total.Sub(paid)
	if payment.Amount.GreaterThan(outstanding.Add(utils.Epsilon)) {
		return customError.WrapPaymentExceedsOutstanding(payment.Amount, outstanding)
	}

	query := `
		INSERT INTO payments (id, number, installment_id, loan_id, amount, date, reference, notes, interest_applied, principal_applied, interest_only, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = tx.ExecContext(ctx, query,
		payment.ID,
		payment.Number,
		payment.InstallmentID,
		payment.LoanID,
		payment.Amount,
		payment.Date,
		payment.Reference,
		payment.Notes,
		payment.InterestApplied,
		payment.PrincipalApplied,
		payment.InterestOnly,
		payment.CreatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT id, number, installment_id, loan_id, amount, date, reference, notes, interest_applied, principal_applied, interest_only, created_at
		FROM payments
		WHERE id = $1
	`

	var payment domain.Payment
	err := r.db.GetContext(ctx, &payment, query, id)
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	return err
}

func (r *paymentRepository) ListByInstallment(ctx context.Context, installmentID uuid.UUID) ([]*domain.Payment, error) {
	query := `
		SELECT id, number, installment_id, loan_id, amount, date, reference, notes, interest_applied, principal_applied, interest_only, created_at
		FROM payments
		WHERE installment_id = $1
		ORDER BY date, created_at
	`

	var payments []*domain.Payment
	err := r.db.SelectContext(ctx, &payments, query, installmentID)
	if err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *paymentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Payment, error) {
	query := `
		SELECT id, number, installment_id, loan_id, amount, date, reference, notes, interest_applied, principal_applied, interest_only, created_at
		FROM payments
		WHERE loan_id = $1
		ORDER BY date, created_at
	`

	var payments []*domain.Payment
	err := r.db.SelectContext(ctx, &payments, query, loanID)
	if err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *paymentRepository) CountInterestOnlyByLoan(ctx context.Context, loanID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM payments WHERE loan_id = $1 AND interest_only`,
		loanID,
	)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *paymentRepository) NextNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('payment_number_seq')`); err != nil {
		return "", err
	}

	return fmt.Sprintf("PAG-%05d", seq), nil
}
