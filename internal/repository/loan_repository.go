package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/savia-coop/cartera-engine/internal/domain"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (id, number, borrower_id, guarantor_id, principal, term_months, annual_rate, method, purpose, start_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.Number,
		loan.BorrowerID,
		loan.GuarantorID,
		loan.Principal,
		loan.TermMonths,
		loan.AnnualRate,
		loan.Method,
		loan.Purpose,
		loan.StartDate,
		loan.Status,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return err
}

func (r *loanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `
		SELECT id, number, borrower_id, guarantor_id, principal, term_months, annual_rate, method, purpose, start_date, status, created_at, updated_at
		FROM loans
		WHERE id = $1
	`

	var loan domain.Loan
	err := r.db.GetContext(ctx, &loan, query, id)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE loans
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	return err
}

func (r *loanRepository) ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	query := `
		SELECT id, number, borrower_id, guarantor_id, principal, term_months, annual_rate, method, purpose, start_date, status, created_at, updated_at
		FROM loans
		WHERE status = $1
		ORDER BY created_at
	`

	var loans []*domain.Loan
	err := r.db.SelectContext(ctx, &loans, query, status)
	if err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) CountByGuarantor(ctx context.Context, guarantorID uuid.UUID, statuses []string, exclude uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM loans
		WHERE guarantor_id = $1 AND status = ANY($2) AND id != $3
	`

	var count int
	err := r.db.GetContext(ctx, &count, query, guarantorID, pq.Array(statuses), exclude)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *loanRepository) NextNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('loan_number_seq')`); err != nil {
		return "", err
	}

	return fmt.Sprintf("CRE-%05d", seq), nil
}
