package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/savia-coop/cartera-engine/internal/alert"
	"github.com/savia-coop/cartera-engine/internal/config"
	"github.com/savia-coop/cartera-engine/internal/domain"
	customError "github.com/savia-coop/cartera-engine/pkg/errors"
	"github.com/savia-coop/cartera-engine/tests/mocks"
)

var testToday = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type serviceMocks struct {
	loanRepo        *mocks.MockLoanRepository
	installmentRepo *mocks.MockInstallmentRepository
	paymentRepo     *mocks.MockPaymentRepository
	notifier        *mocks.MockNotifier
}

func newTestService() (*LoanService, *serviceMocks) {
	m := &serviceMocks{
		loanRepo:        &mocks.MockLoanRepository{},
		installmentRepo: &mocks.MockInstallmentRepository{},
		paymentRepo:     &mocks.MockPaymentRepository{},
		notifier:        &mocks.MockNotifier{},
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := &LoanService{
		loanRepo:        m.loanRepo,
		installmentRepo: m.installmentRepo,
		paymentRepo:     m.paymentRepo,
		notifier:        m.notifier,
		config: &config.Config{
			Business: config.BusinessConfig{
				GuarantorLoanCap:      3,
				InterestOnlyThreshold: 3,
				DefaultMethod:         "french",
				ReportCacheTTL:        "5m",
			},
		},
		log: log,
		now: func() time.Time { return testToday },
	}
	return svc, m
}

func activeLoan() *domain.Loan {
	return &domain.Loan{
		ID:         uuid.New(),
		Number:     "CRE-00042",
		BorrowerID: uuid.New(),
		Principal:  decimal.NewFromInt(1200),
		TermMonths: 12,
		AnnualRate: decimal.NewFromInt(12),
		Method:     "french",
		StartDate:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:     domain.LoanStatusActive,
	}
}

func firstInstallment(loanID uuid.UUID) *domain.Installment {
	return &domain.Installment{
		ID:       uuid.New(),
		LoanID:   loanID,
		Number:   1,
		DueDate:  time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
		Interest: decimal.NewFromFloat(12.00),
		Total:    decimal.NewFromFloat(106.62),
	}
}

func TestCreateLoan_Defaults(t *testing.T) {
	svc, m := newTestService()

	m.loanRepo.On("NextNumber", mock.Anything).Return("CRE-00001", nil)
	m.loanRepo.On("Create", mock.Anything, mock.MatchedBy(func(loan *domain.Loan) bool {
		return loan.Status == domain.LoanStatusDraft && loan.Method == "french"
	})).Return(nil)

	loan, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
		BorrowerID: uuid.New(),
		Principal:  decimal.NewFromInt(1200),
		TermMonths: 12,
		AnnualRate: decimal.NewFromInt(12),
		StartDate:  "2024-01-15",
	})

	require.NoError(t, err)
	assert.Equal(t, "CRE-00001", loan.Number)
	assert.Equal(t, domain.LoanStatusDraft, loan.Status)
	assert.Equal(t, "french", loan.Method)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), loan.StartDate)

	m.loanRepo.AssertExpectations(t)
}

func TestCreateLoan_RejectsNonPositivePrincipal(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
		BorrowerID: uuid.New(),
		Principal:  decimal.Zero,
		TermMonths: 12,
		AnnualRate: decimal.NewFromInt(12),
		StartDate:  "2024-01-15",
	})

	require.Error(t, err)
	assert.Equal(t, customError.KindValidation, customError.KindOf(err))
}

func TestApprove_Success(t *testing.T) {
	svc, m := newTestService()

	guarantorID := uuid.New()
	loan := activeLoan()
	loan.Status = domain.LoanStatusDraft
	loan.GuarantorID = &guarantorID

	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.loanRepo.On("CountByGuarantor", mock.Anything, guarantorID,
		[]string{domain.LoanStatusApproved, domain.LoanStatusActive}, loan.ID).Return(2, nil)
	m.loanRepo.On("UpdateStatus", mock.Anything, loan.ID, domain.LoanStatusApproved).Return(nil)

	approved, err := svc.Approve(context.Background(), loan.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusApproved, approved.Status)
	m.loanRepo.AssertExpectations(t)
}

func TestApprove_GuarantorCapReached(t *testing.T) {
	svc, m := newTestService()

	guarantorID := uuid.New()
	loan := activeLoan()
	loan.Status = domain.LoanStatusDraft
	loan.GuarantorID = &guarantorID

	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.loanRepo.On("CountByGuarantor", mock.Anything, guarantorID,
		[]string{domain.LoanStatusApproved, domain.LoanStatusActive}, loan.ID).Return(3, nil)

	_, err := svc.Approve(context.Background(), loan.ID)

	require.Error(t, err)
	assert.Equal(t, customError.KindValidation, customError.KindOf(err))
	m.loanRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_GeneratesSchedule(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	loan.Status = domain.LoanStatusApproved

	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installmentRepo.On("ReplaceForLoan", mock.Anything, loan.ID,
		mock.MatchedBy(func(installments []*domain.Installment) bool {
			return len(installments) == 12 &&
				installments[0].Number == 1 &&
				installments[0].Interest.Equal(decimal.NewFromFloat(12.00)) &&
				installments[11].ClosingBalance.IsZero()
		})).Return(nil)
	m.loanRepo.On("UpdateStatus", mock.Anything, loan.ID, domain.LoanStatusActive).Return(nil)

	activated, err := svc.Activate(context.Background(), loan.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, activated.Status)
	m.installmentRepo.AssertExpectations(t)
}

func TestActivate_RequiresApproved(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	loan.Status = domain.LoanStatusDraft
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.Activate(context.Background(), loan.ID)

	require.Error(t, err)
	assert.Equal(t, customError.KindState, customError.KindOf(err))
}

func TestCancel_NeverFromPaid(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	loan.Status = domain.LoanStatusPaid
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.Cancel(context.Background(), loan.ID)

	require.Error(t, err)
	assert.Equal(t, customError.KindState, customError.KindOf(err))
}

func TestRevertToDraft_DestroysSchedule(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installmentRepo.On("DeleteForLoan", mock.Anything, loan.ID).Return(nil)
	m.loanRepo.On("UpdateStatus", mock.Anything, loan.ID, domain.LoanStatusDraft).Return(nil)

	reverted, err := svc.RevertToDraft(context.Background(), loan.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusDraft, reverted.Status)
	m.installmentRepo.AssertExpectations(t)
}

func TestRegisterPayment_FullInstallmentSettlesLoan(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	installment := firstInstallment(loan.ID)
	amount := decimal.NewFromFloat(106.62)

	m.installmentRepo.On("GetByID", mock.Anything, installment.ID).Return(installment, nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.paymentRepo.On("ListByInstallment", mock.Anything, installment.ID).Return([]*domain.Payment{}, nil)
	m.paymentRepo.On("NextNumber", mock.Anything).Return("PAG-00001", nil)
	m.paymentRepo.On("Create", mock.Anything, mock.MatchedBy(func(p *domain.Payment) bool {
		return p.Amount.Equal(amount) && p.InstallmentID == installment.ID && p.LoanID == loan.ID
	})).Return(nil)
	m.installmentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Installment{installment}, nil)
	m.paymentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Payment{
		{InstallmentID: installment.ID, Amount: amount},
	}, nil)
	m.loanRepo.On("UpdateStatus", mock.Anything, loan.ID, domain.LoanStatusPaid).Return(nil)

	result, err := svc.RegisterPayment(context.Background(), installment.ID, &domain.RegisterPaymentRequest{
		Amount: amount,
		Date:   "2024-05-01",
	})

	require.NoError(t, err)
	assert.Empty(t, result.Warning)
	assert.Equal(t, "PAG-00001", result.Payment.Number)
	assert.True(t, result.Payment.InterestApplied.Equal(decimal.NewFromFloat(12.00)))
	assert.True(t, result.Payment.PrincipalApplied.Equal(decimal.NewFromFloat(94.62)))
	assert.False(t, result.Payment.InterestOnly)

	m.paymentRepo.AssertExpectations(t)
	m.loanRepo.AssertExpectations(t)
}

func TestRegisterPayment_ExceedsOutstanding(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	installment := firstInstallment(loan.ID)

	m.installmentRepo.On("GetByID", mock.Anything, installment.ID).Return(installment, nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.paymentRepo.On("ListByInstallment", mock.Anything, installment.ID).Return([]*domain.Payment{
		{InstallmentID: installment.ID, Amount: decimal.NewFromFloat(50.00)},
	}, nil)

	// outstanding is 56.62; exceeding it by 0.02 must be rejected
	_, err := svc.RegisterPayment(context.Background(), installment.ID, &domain.RegisterPaymentRequest{
		Amount: decimal.NewFromFloat(56.64),
		Date:   "2024-05-01",
	})

	require.Error(t, err)
	assert.Equal(t, customError.KindValidation, customError.KindOf(err))
	m.paymentRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegisterPayment_BelowInterestIsAdvisory(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	installment := firstInstallment(loan.ID)
	amount := decimal.NewFromFloat(8.00)

	m.installmentRepo.On("GetByID", mock.Anything, installment.ID).Return(installment, nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.paymentRepo.On("ListByInstallment", mock.Anything, installment.ID).Return([]*domain.Payment{}, nil)
	m.paymentRepo.On("NextNumber", mock.Anything).Return("PAG-00002", nil)
	m.paymentRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.installmentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Installment{installment}, nil)
	m.paymentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Payment{
		{InstallmentID: installment.ID, Amount: amount},
	}, nil)

	result, err := svc.RegisterPayment(context.Background(), installment.ID, &domain.RegisterPaymentRequest{
		Amount: amount,
		Date:   "2024-05-01",
	})

	// the operation goes through, the warning rides along
	require.NoError(t, err)
	assert.NotEmpty(t, result.Warning)
	assert.True(t, result.Payment.InterestApplied.Equal(amount))
	assert.True(t, result.Payment.PrincipalApplied.IsZero())
	m.paymentRepo.AssertExpectations(t)
}

func TestRegisterPayment_InterestOnlyAlertAtThreshold(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	installment := firstInstallment(loan.ID)
	amount := decimal.NewFromFloat(12.00)

	m.installmentRepo.On("GetByID", mock.Anything, installment.ID).Return(installment, nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.paymentRepo.On("ListByInstallment", mock.Anything, installment.ID).Return([]*domain.Payment{}, nil)
	m.paymentRepo.On("NextNumber", mock.Anything).Return("PAG-00003", nil)
	m.paymentRepo.On("Create", mock.Anything, mock.MatchedBy(func(p *domain.Payment) bool {
		return p.InterestOnly
	})).Return(nil)
	m.paymentRepo.On("CountInterestOnlyByLoan", mock.Anything, loan.ID).Return(3, nil)
	m.notifier.On("InterestOnlyStreak", mock.Anything, mock.MatchedBy(func(sig alert.Signal) bool {
		return sig.LoanID == loan.ID && sig.InterestOnlyCount == 3
	})).Return(nil)
	m.installmentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Installment{installment}, nil)
	m.paymentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Payment{
		{InstallmentID: installment.ID, Amount: amount},
	}, nil)

	result, err := svc.RegisterPayment(context.Background(), installment.ID, &domain.RegisterPaymentRequest{
		Amount: amount,
		Date:   "2024-05-01",
	})

	require.NoError(t, err)
	assert.True(t, result.Payment.InterestOnly)
	assert.True(t, result.Payment.PrincipalApplied.IsZero())
	m.notifier.AssertNumberOfCalls(t, "InterestOnlyStreak", 1)
}

func TestRegisterPayment_InterestOnlyBelowThresholdNoAlert(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	installment := firstInstallment(loan.ID)
	amount := decimal.NewFromFloat(12.00)

	m.installmentRepo.On("GetByID", mock.Anything, installment.ID).Return(installment, nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.paymentRepo.On("ListByInstallment", mock.Anything, installment.ID).Return([]*domain.Payment{}, nil)
	m.paymentRepo.On("NextNumber", mock.Anything).Return("PAG-00004", nil)
	m.paymentRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.paymentRepo.On("CountInterestOnlyByLoan", mock.Anything, loan.ID).Return(2, nil)
	m.installmentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Installment{installment}, nil)
	m.paymentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Payment{
		{InstallmentID: installment.ID, Amount: amount},
	}, nil)

	_, err := svc.RegisterPayment(context.Background(), installment.ID, &domain.RegisterPaymentRequest{
		Amount: amount,
		Date:   "2024-05-01",
	})

	require.NoError(t, err)
	m.notifier.AssertNotCalled(t, "InterestOnlyStreak", mock.Anything, mock.Anything)
}

func TestRegisterPayment_RequiresActiveLoan(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	loan.Status = domain.LoanStatusDraft
	installment := firstInstallment(loan.ID)

	m.installmentRepo.On("GetByID", mock.Anything, installment.ID).Return(installment, nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)

	_, err := svc.RegisterPayment(context.Background(), installment.ID, &domain.RegisterPaymentRequest{
		Amount: decimal.NewFromFloat(12.00),
		Date:   "2024-05-01",
	})

	require.Error(t, err)
	assert.Equal(t, customError.KindState, customError.KindOf(err))
}

func TestDeletePayment_ReopensPaidLoan(t *testing.T) {
	svc, m := newTestService()

	loan := activeLoan()
	loan.Status = domain.LoanStatusPaid
	installment := firstInstallment(loan.ID)
	payment := &domain.Payment{
		ID:            uuid.New(),
		InstallmentID: installment.ID,
		LoanID:        loan.ID,
		Amount:        decimal.NewFromFloat(106.62),
	}

	m.paymentRepo.On("GetByID", mock.Anything, payment.ID).Return(payment, nil)
	m.paymentRepo.On("Delete", mock.Anything, payment.ID).Return(nil)
	m.loanRepo.On("GetByID", mock.Anything, loan.ID).Return(loan, nil)
	m.installmentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Installment{installment}, nil)
	m.paymentRepo.On("ListByLoan", mock.Anything, loan.ID).Return([]*domain.Payment{}, nil)
	m.loanRepo.On("UpdateStatus", mock.Anything, loan.ID, domain.LoanStatusActive).Return(nil)

	err := svc.DeletePayment(context.Background(), payment.ID)

	require.NoError(t, err)
	m.loanRepo.AssertExpectations(t)
}

func TestVencida_GroupsByPeriod(t *testing.T) {
	svc, m := newTestService()

	loanA := uuid.New()
	loanB := uuid.New()
	asOf := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	balance := func(loanID uuid.UUID, due time.Time, total, paid float64) *domain.InstallmentBalance {
		return &domain.InstallmentBalance{
			Installment: domain.Installment{
				ID:      uuid.New(),
				LoanID:  loanID,
				DueDate: due,
				Total:   decimal.NewFromFloat(total),
			},
			PaidToDate: decimal.NewFromFloat(paid),
		}
	}

	m.installmentRepo.On("ListDueBefore", mock.Anything, asOf).Return([]*domain.InstallmentBalance{
		balance(loanA, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 100, 0),
		balance(loanB, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), 200, 0),
		balance(loanA, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 100, 0),
		// partially covered, excluded from the report
		balance(loanA, time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC), 100, 40),
		// settled, excluded
		balance(loanB, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), 150, 150),
	}, nil)

	rows, err := svc.Vencida(context.Background(), asOf)

	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2024-01", rows[0].Period)
	assert.Equal(t, 1, rows[0].NumLoans)
	assert.True(t, rows[0].AmountOwing.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, "2024-03", rows[1].Period)
	assert.Equal(t, 2, rows[1].NumLoans)
	assert.True(t, rows[1].AmountOwing.Equal(decimal.NewFromInt(300)))
}
