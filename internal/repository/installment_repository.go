package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/savia-coop/cartera-engine/internal/domain"
)

type installmentRepository struct {
	db *sqlx.DB
}

func NewInstallmentRepository(db *sqlx.DB) InstallmentRepository {
	return &installmentRepository{db: db}
}

func (r *installmentRepository) ReplaceForLoan(ctx context.Context, loanID uuid.UUID, installments []*domain.Installment) error {
	query := `
		INSERT INTO installments (id, loan_id, number, due_date, principal, interest, total, opening_balance, closing_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = $1`, loanID); err != nil {
		return err
	}

	for _, installment := range installments {
		_, err = tx.ExecContext(ctx, query,
			installment.ID,
			installment.LoanID,
			installment.Number,
			installment.DueDate,
			installment.Principal,
			installment.Interest,
			installment.Total,
			installment.OpeningBalance,
			installment.ClosingBalance,
			installment.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *installmentRepository) DeleteForLoan(ctx context.Context, loanID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = $1`, loanID)
	return err
}

func (r *installmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Installment, error) {
	query := `
		SELECT id, loan_id, number, due_date, principal, interest, total, opening_balance, closing_balance, created_at
		FROM installments
		WHERE id = $1
	`

	var installment domain.Installment
	err := r.db.GetContext(ctx, &installment, query, id)
	if err != nil {
		return nil, err
	}

	return &installment, nil
}

func (r *installmentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error) {
	query := `
		SELECT id, loan_id, number, due_date, principal, interest, total, opening_balance, closing_balance, created_at
		FROM installments
		WHERE loan_id = $1
		ORDER BY number
	`

	var installments []*domain.Installment
	err := r.db.SelectContext(ctx, &installments, query, loanID)
	if err != nil {
		return nil, err
	}

	return installments, nil
}

func (r *installmentRepository) ListDueBefore(ctx context.Context, asOf time.Time) ([]*domain.InstallmentBalance, error) {
	query := `
		SELECT i.id, i.loan_id, i.number, i.due_date, i.principal, i.interest, i.total, i.opening_balance, i.closing_balance, i.created_at,
		       COALESCE(SUM(p.amount), 0) AS paid_to_date
		FROM installments i
		LEFT JOIN payments p ON p.installment_id = i.id
		WHERE i.due_date < $1
		GROUP BY i.id
		ORDER BY i.due_date, i.number
	`

	var rows []*domain.InstallmentBalance
	err := r.db.SelectContext(ctx, &rows, query, asOf)
	if err != nil {
		return nil, err
	}

	return rows, nil
}
