package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/savia-coop/cartera-engine/internal/alert"
	"github.com/savia-coop/cartera-engine/internal/config"
	"github.com/savia-coop/cartera-engine/internal/domain"
	"github.com/savia-coop/cartera-engine/internal/repository"
	"github.com/savia-coop/cartera-engine/internal/schedule"
	customError "github.com/savia-coop/cartera-engine/pkg/errors"
	"github.com/savia-coop/cartera-engine/pkg/utils"
)

const (
	loanSummaryKeyPrefix = "cartera:summary:"
	vencidaKeyPrefix     = "cartera:vencida:"
)

type LoanService struct {
	loanRepo        repository.LoanRepository
	installmentRepo repository.InstallmentRepository
	paymentRepo     repository.PaymentRepository
	notifier        alert.Notifier
	redis           *redis.Client
	config          *config.Config
	log             *logrus.Logger
	now             func() time.Time
}

func NewLoanService(
	loanRepo repository.LoanRepository,
	installmentRepo repository.InstallmentRepository,
	paymentRepo repository.PaymentRepository,
	notifier alert.Notifier,
	redis *redis.Client,
	config *config.Config,
	log *logrus.Logger,
) *LoanService {
	return &LoanService{
		loanRepo:        loanRepo,
		installmentRepo: installmentRepo,
		paymentRepo:     paymentRepo,
		notifier:        notifier,
		redis:           redis,
		config:          config,
		log:             log,
		now:             time.Now,
	}
}

// CreateLoan registers a new draft loan. The schedule is not generated
// until the loan is activated.
func (s *LoanService) CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, error) {
	if !request.Principal.GreaterThan(decimal.Zero) {
		return nil, customError.WrapInvalidLoanTerms("principal must be greater than zero")
	}
	if request.TermMonths <= 0 {
		return nil, customError.WrapInvalidLoanTerms("term must be greater than zero")
	}
	if request.AnnualRate.LessThan(decimal.Zero) {
		return nil, customError.WrapInvalidLoanTerms("annual rate must be zero or greater")
	}

	startDate, err := time.Parse("2006-01-02", request.StartDate)
	if err != nil {
		return nil, customError.WrapInvalidLoanTerms("start date must be formatted as YYYY-MM-DD")
	}

	method := request.Method
	if method == "" {
		method = s.config.Business.DefaultMethod
	}
	if method != string(schedule.MethodFrench) && method != string(schedule.MethodGerman) {
		return nil, customError.WrapUnknownMethod(method)
	}

	number, err := s.loanRepo.NextNumber(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	now := s.now()
	loan := &domain.Loan{
		ID:          uuid.New(),
		Number:      number,
		BorrowerID:  request.BorrowerID,
		GuarantorID: request.GuarantorID,
		Principal:   request.Principal,
		TermMonths:  request.TermMonths,
		AnnualRate:  request.AnnualRate,
		Method:      method,
		Purpose:     request.Purpose,
		StartDate:   startDate,
		Status:      domain.LoanStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.loanRepo.Create(ctx, loan); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	s.log.WithFields(logrus.Fields{"loan": loan.Number, "principal": loan.Principal}).Info("loan created")
	return loan, nil
}

// Approve moves a draft loan to approved, enforcing the guarantor cap.
func (s *LoanService) Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if loan.Status != domain.LoanStatusDraft {
		return nil, customError.WrapInvalidTransition(loan.Status, "approve")
	}

	if loan.GuarantorID != nil {
		limit := s.config.Business.GuarantorLoanCap
		backed, err := s.loanRepo.CountByGuarantor(ctx, *loan.GuarantorID,
			[]string{domain.LoanStatusApproved, domain.LoanStatusActive}, loan.ID)
		if err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
		if backed >= limit {
			return nil, customError.WrapGuarantorCapReached(loan.GuarantorID.String(), backed, limit)
		}
	}

	if err := s.loanRepo.UpdateStatus(ctx, loan.ID, domain.LoanStatusApproved); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	loan.Status = domain.LoanStatusApproved
	return loan, nil
}

// Activate generates the amortization schedule and moves the loan to
// active. The schedule replacement is atomic: a half-written schedule is
// never observable.
func (s *LoanService) Activate(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if loan.Status != domain.LoanStatusApproved {
		return nil, customError.WrapInvalidTransition(loan.Status, "activate")
	}

	drafts, err := schedule.Generate(loan.Principal, loan.TermMonths, loan.AnnualRate,
		schedule.Method(loan.Method), loan.StartDate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	installments := make([]*domain.Installment, 0, len(drafts))
	for _, draft := range drafts {
		installments = append(installments, &domain.Installment{
			ID:             uuid.New(),
			LoanID:         loan.ID,
			Number:         draft.Number,
			DueDate:        draft.DueDate,
			Principal:      draft.Principal,
			Interest:       draft.Interest,
			Total:          draft.Total,
			OpeningBalance: draft.OpeningBalance,
			ClosingBalance: draft.ClosingBalance,
			CreatedAt:      now,
		})
	}

	if err := s.installmentRepo.ReplaceForLoan(ctx, loan.ID, installments); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	if err := s.loanRepo.UpdateStatus(ctx, loan.ID, domain.LoanStatusActive); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	loan.Status = domain.LoanStatusActive
	s.invalidateCache(ctx, loan.ID)
	s.log.WithFields(logrus.Fields{"loan": loan.Number, "installments": len(installments)}).Info("loan activated")
	return loan, nil
}

// Cancel is reachable from any state except paid.
func (s *LoanService) Cancel(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if loan.Status == domain.LoanStatusPaid || loan.Status == domain.LoanStatusCancelled {
		return nil, customError.WrapInvalidTransition(loan.Status, "cancel")
	}

	if err := s.loanRepo.UpdateStatus(ctx, loan.ID, domain.LoanStatusCancelled); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	loan.Status = domain.LoanStatusCancelled
	s.invalidateCache(ctx, loan.ID)
	return loan, nil
}

// RevertToDraft destroys the schedule and returns an active loan to draft.
// Activating again regenerates the schedule from scratch.
func (s *LoanService) RevertToDraft(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if loan.Status != domain.LoanStatusActive {
		return nil, customError.WrapInvalidTransition(loan.Status, "revert")
	}

	if err := s.installmentRepo.DeleteForLoan(ctx, loan.ID); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	if err := s.loanRepo.UpdateStatus(ctx, loan.ID, domain.LoanStatusDraft); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	loan.Status = domain.LoanStatusDraft
	s.invalidateCache(ctx, loan.ID)
	return loan, nil
}

// GetLoan returns a loan together with its aggregate figures.
func (s *LoanService) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.LoanResponse, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	summary, err := s.summarize(ctx, loan)
	if err != nil {
		return nil, err
	}

	return &domain.LoanResponse{Loan: loan, Summary: summary}, nil
}

// GetSchedule returns the loan's installments with their derived state.
func (s *LoanService) GetSchedule(ctx context.Context, loanID uuid.UUID) (*domain.ScheduleResponse, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	installments, err := s.installmentRepo.ListByLoan(ctx, loan.ID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	payments, err := s.paymentRepo.ListByLoan(ctx, loan.ID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	byInstallment := groupByInstallment(payments)
	today := s.now()

	rows := make([]*domain.InstallmentResponse, 0, len(installments))
	for _, installment := range installments {
		state := installment.State(byInstallment[installment.ID], today)
		rows = append(rows, &domain.InstallmentResponse{
			Installment:     installment,
			State:           state,
			SuggestedAmount: decimal.Max(decimal.Zero, state.Outstanding),
		})
	}

	return &domain.ScheduleResponse{LoanID: loan.ID, Installments: rows}, nil
}

// RegisterPayment validates and records a payment against an installment,
// allocates it interest-first, and evaluates the interest-only alert
// policy. A payment below the interest component is advisory, not
// blocking: the response carries the warning.
func (s *LoanService) RegisterPayment(ctx context.Context, installmentID uuid.UUID, request *domain.RegisterPaymentRequest) (*domain.RegisterPaymentResponse, error) {
	installment, err := s.installmentRepo.GetByID(ctx, installmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapInstallmentNotFound(installmentID.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}

	loan, err := s.getLoan(ctx, installment.LoanID)
	if err != nil {
		return nil, err
	}

	if loan.Status != domain.LoanStatusActive {
		return nil, customError.WrapInvalidTransition(loan.Status, "register a payment on")
	}

	if !request.Amount.GreaterThan(decimal.Zero) {
		return nil, customError.WrapInvalidLoanTerms("payment amount must be greater than zero")
	}

	paymentDate, err := time.Parse("2006-01-02", request.Date)
	if err != nil {
		return nil, customError.WrapInvalidLoanTerms("payment date must be formatted as YYYY-MM-DD")
	}

	others, err := s.paymentRepo.ListByInstallment(ctx, installment.ID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	state := installment.State(others, s.now())
	if request.Amount.GreaterThan(state.Outstanding.Add(utils.Epsilon)) {
		return nil, customError.WrapPaymentExceedsOutstanding(request.Amount, state.Outstanding)
	}

	var warning string
	if request.Amount.LessThan(installment.Interest) {
		warning = customError.WrapPaymentBelowInterest(request.Amount, installment.Interest).Message
	}

	interestApplied, principalApplied := domain.Allocate(request.Amount, installment.Interest)
	interestOnly := domain.ClassifyInterestOnly(request.Amount, installment.Interest)

	number, err := s.paymentRepo.NextNumber(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	payment := &domain.Payment{
		ID:               uuid.New(),
		Number:           number,
		InstallmentID:    installment.ID,
		LoanID:           loan.ID,
		Amount:           request.Amount,
		Date:             paymentDate,
		Reference:        request.Reference,
		Notes:            request.Notes,
		InterestApplied:  interestApplied,
		PrincipalApplied: principalApplied,
		InterestOnly:     interestOnly,
		CreatedAt:        s.now(),
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		var be *customError.BusinessError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, customError.WrapDatabaseError(err)
	}

	if interestOnly {
		s.evaluateInterestOnlyAlert(ctx, loan)
	}

	if err := s.settleIfFullyPaid(ctx, loan); err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, loan.ID)
	s.log.WithFields(logrus.Fields{
		"payment":       payment.Number,
		"loan":          loan.Number,
		"amount":        payment.Amount,
		"interest_only": payment.InterestOnly,
	}).Info("payment registered")

	return &domain.RegisterPaymentResponse{Payment: payment, Warning: warning}, nil
}

// DeletePayment removes a payment; installment and loan figures re-derive
// on the next read. A loan previously settled reopens if the deletion
// leaves an installment unpaid.
func (s *LoanService) DeletePayment(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return customError.WrapPaymentNotFound(paymentID.String())
		}
		return customError.WrapDatabaseError(err)
	}

	if err := s.paymentRepo.Delete(ctx, payment.ID); err != nil {
		return customError.WrapDatabaseError(err)
	}

	loan, err := s.getLoan(ctx, payment.LoanID)
	if err != nil {
		return err
	}

	if loan.Status == domain.LoanStatusPaid {
		fullyPaid, err := s.isFullyPaid(ctx, loan.ID)
		if err != nil {
			return err
		}
		if !fullyPaid {
			if err := s.loanRepo.UpdateStatus(ctx, loan.ID, domain.LoanStatusActive); err != nil {
				return customError.WrapDatabaseError(err)
			}
		}
	}

	s.invalidateCache(ctx, loan.ID)
	return nil
}

// Vencida computes the portfolio-wide overdue report: every installment
// across every loan due strictly before the cut-off and not yet covered,
// grouped by the due date's year-month. Grouping is a single explicit pass
// and the output ordering is stable regardless of scan order.
func (s *LoanService) Vencida(ctx context.Context, asOf time.Time) ([]*domain.VencidaRow, error) {
	cacheKey := vencidaKeyPrefix + asOf.Format("2006-01-02")
	if cached, ok := s.cacheGet(ctx, cacheKey); ok {
		var rows []*domain.VencidaRow
		if err := json.Unmarshal(cached, &rows); err == nil {
			return rows, nil
		}
	}

	balances, err := s.installmentRepo.ListDueBefore(ctx, asOf)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	type bucket struct {
		loans  map[uuid.UUID]struct{}
		amount decimal.Decimal
	}
	buckets := make(map[string]*bucket)

	for _, balance := range balances {
		state := balance.StateFromPaid(balance.PaidToDate, asOf)
		if state.Status != domain.InstallmentStatusPending && state.Status != domain.InstallmentStatusOverdue {
			continue
		}

		key := utils.PeriodKey(balance.DueDate)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{loans: make(map[uuid.UUID]struct{}), amount: decimal.Zero}
			buckets[key] = b
		}
		b.loans[balance.LoanID] = struct{}{}
		b.amount = b.amount.Add(state.Outstanding)
	}

	periods := make([]string, 0, len(buckets))
	for key := range buckets {
		periods = append(periods, key)
	}
	sort.Strings(periods)

	rows := make([]*domain.VencidaRow, 0, len(periods))
	for _, period := range periods {
		rows = append(rows, &domain.VencidaRow{
			Period:      period,
			NumLoans:    len(buckets[period].loans),
			AmountOwing: buckets[period].amount,
		})
	}

	s.cacheSet(ctx, cacheKey, rows)
	return rows, nil
}

// summarize recomputes the loan-level figures from the installments and
// payments. The figures are never stored; the cache is the only copy and
// it is dropped on every mutation.
func (s *LoanService) summarize(ctx context.Context, loan *domain.Loan) (*domain.LoanSummary, error) {
	cacheKey := loanSummaryKeyPrefix + loan.ID.String()
	if cached, ok := s.cacheGet(ctx, cacheKey); ok {
		var summary domain.LoanSummary
		if err := json.Unmarshal(cached, &summary); err == nil {
			return &summary, nil
		}
	}

	installments, err := s.installmentRepo.ListByLoan(ctx, loan.ID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	payments, err := s.paymentRepo.ListByLoan(ctx, loan.ID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	byInstallment := groupByInstallment(payments)
	today := s.now()

	summary := &domain.LoanSummary{
		TotalDue:        decimal.Zero,
		TotalCollected:  decimal.Zero,
		Outstanding:     decimal.Zero,
		CapitalBalance:  decimal.Zero,
		NumInstallments: len(installments),
	}

	for _, installment := range installments {
		summary.TotalDue = summary.TotalDue.Add(installment.Total)

		state := installment.State(byInstallment[installment.ID], today)
		summary.CapitalBalance = summary.CapitalBalance.Add(state.Outstanding)
		if state.Status == domain.InstallmentStatusOverdue {
			summary.HasOverdue = true
		}
	}

	for _, payment := range payments {
		summary.TotalCollected = summary.TotalCollected.Add(payment.Amount)
	}

	summary.Outstanding = summary.TotalDue.Sub(summary.TotalCollected)

	s.cacheSet(ctx, cacheKey, summary)
	return summary, nil
}

// evaluateInterestOnlyAlert counts the loan's interest-only payments to
// date and signals the notifier once the configured threshold is reached.
// The count deliberately includes non-consecutive payments: a principal
// payment in between does not reset it. A failed signal never fails the
// payment that triggered it.
func (s *LoanService) evaluateInterestOnlyAlert(ctx context.Context, loan *domain.Loan) {
	count, err := s.paymentRepo.CountInterestOnlyByLoan(ctx, loan.ID)
	if err != nil {
		s.log.WithError(err).WithField("loan", loan.Number).Error("counting interest-only payments")
		return
	}

	if count < s.config.Business.InterestOnlyThreshold {
		return
	}

	sig := alert.Signal{
		LoanID:            loan.ID,
		LoanNumber:        loan.Number,
		BorrowerID:        loan.BorrowerID,
		InterestOnlyCount: count,
	}
	if err := s.notifier.InterestOnlyStreak(ctx, sig); err != nil {
		s.log.WithError(err).WithField("loan", loan.Number).Error("emitting interest-only alert")
	}
}

// settleIfFullyPaid moves the loan to paid when every installment is
// settled.
func (s *LoanService) settleIfFullyPaid(ctx context.Context, loan *domain.Loan) error {
	fullyPaid, err := s.isFullyPaid(ctx, loan.ID)
	if err != nil {
		return err
	}
	if !fullyPaid {
		return nil
	}

	if err := s.loanRepo.UpdateStatus(ctx, loan.ID, domain.LoanStatusPaid); err != nil {
		return customError.WrapDatabaseError(err)
	}
	loan.Status = domain.LoanStatusPaid
	s.log.WithField("loan", loan.Number).Info("loan fully paid")
	return nil
}

func (s *LoanService) isFullyPaid(ctx context.Context, loanID uuid.UUID) (bool, error) {
	installments, err := s.installmentRepo.ListByLoan(ctx, loanID)
	if err != nil {
		return false, customError.WrapDatabaseError(err)
	}
	if len(installments) == 0 {
		return false, nil
	}

	payments, err := s.paymentRepo.ListByLoan(ctx, loanID)
	if err != nil {
		return false, customError.WrapDatabaseError(err)
	}

	byInstallment := groupByInstallment(payments)
	today := s.now()

	for _, installment := range installments {
		state := installment.State(byInstallment[installment.ID], today)
		if state.Status != domain.InstallmentStatusPaid {
			return false, nil
		}
	}

	return true, nil
}

func (s *LoanService) getLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapLoanNotFound(loanID.String())
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return loan, nil
}

// cacheGet and cacheSet degrade to direct reads when redis is absent or
// failing; a cache problem must never fail a business operation.
func (s *LoanService) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.redis == nil {
		return nil, false
	}

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WithError(customError.WrapCacheError(err)).WithField("key", key).Warn("cache read failed")
		}
		return nil, false
	}
	return data, true
}

func (s *LoanService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, key, data, s.config.GetReportCacheTTL()).Err(); err != nil {
		s.log.WithError(customError.WrapCacheError(err)).WithField("key", key).Warn("cache write failed")
	}
}

func (s *LoanService) invalidateCache(ctx context.Context, loanID uuid.UUID) {
	if s.redis == nil {
		return
	}

	keys := []string{
		loanSummaryKeyPrefix + loanID.String(),
		vencidaKeyPrefix + s.now().Format("2006-01-02"),
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		s.log.WithError(customError.WrapCacheError(err)).Warn("cache invalidation failed")
	}
}

func groupByInstallment(payments []*domain.Payment) map[uuid.UUID][]*domain.Payment {
	grouped := make(map[uuid.UUID][]*domain.Payment, len(payments))
	for _, payment := range payments {
		grouped[payment.InstallmentID] = append(grouped[payment.InstallmentID], payment)
	}
	return grouped
}
