package errors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a business error for transport mapping and caller policy.
type Kind int

const (
	// KindValidation marks a structural or data invariant violation.
	// Always surfaced, never corrected, blocks the write.
	KindValidation Kind = iota
	// KindUser marks a business-rule warning. Advisory in most flows.
	KindUser
	// KindState marks an illegal lifecycle transition.
	KindState
	// KindNotFound marks a missing entity.
	KindNotFound
	// KindInternal marks infrastructure failures (database, cache).
	KindInternal
)

// Domain errors
var (
	ErrLoanNotFound              = errors.New("loan not found")
	ErrInstallmentNotFound       = errors.New("installment not found")
	ErrPaymentNotFound           = errors.New("payment not found")
	ErrPaymentExceedsOutstanding = errors.New("payment exceeds outstanding balance")
	ErrPaymentBelowInterest      = errors.New("payment below installment interest")
	ErrInvalidTransition         = errors.New("invalid loan state transition")
	ErrGuarantorCapReached       = errors.New("guarantor active loan cap reached")
	ErrInvalidLoanTerms          = errors.New("invalid loan terms")
	ErrUnknownMethod             = errors.New("unknown amortization method")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(kind Kind, code, message string, err error) *BusinessError {
	return &BusinessError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of a business error, or KindInternal for
// anything else.
func KindOf(err error) Kind {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// Error codes
const (
	ErrCodeLoanNotFound              = "LOAN_NOT_FOUND"
	ErrCodeInstallmentNotFound       = "INSTALLMENT_NOT_FOUND"
	ErrCodePaymentNotFound           = "PAYMENT_NOT_FOUND"
	ErrCodePaymentExceedsOutstanding = "PAYMENT_EXCEEDS_OUTSTANDING"
	ErrCodePaymentBelowInterest      = "PAYMENT_BELOW_INTEREST"
	ErrCodeInvalidTransition         = "INVALID_TRANSITION"
	ErrCodeGuarantorCapReached       = "GUARANTOR_CAP_REACHED"
	ErrCodeInvalidLoanTerms          = "INVALID_LOAN_TERMS"
	ErrCodeUnknownMethod             = "UNKNOWN_METHOD"
	ErrCodeDatabaseError             = "DATABASE_ERROR"
	ErrCodeCacheError                = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapInstallmentNotFound(installmentID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeInstallmentNotFound,
		fmt.Sprintf("Installment %s not found", installmentID),
		ErrInstallmentNotFound,
	)
}

func WrapPaymentNotFound(paymentID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodePaymentNotFound,
		fmt.Sprintf("Payment %s not found", paymentID),
		ErrPaymentNotFound,
	)
}

func WrapPaymentExceedsOutstanding(amount, outstanding decimal.Decimal) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodePaymentExceedsOutstanding,
		fmt.Sprintf("Payment amount %s exceeds outstanding balance %s",
			amount.StringFixed(2), outstanding.StringFixed(2)),
		ErrPaymentExceedsOutstanding,
	)
}

func WrapPaymentBelowInterest(amount, interest decimal.Decimal) *BusinessError {
	return NewBusinessError(
		KindUser,
		ErrCodePaymentBelowInterest,
		fmt.Sprintf("Payment %s is below the installment interest %s and will be applied entirely to interest",
			amount.StringFixed(2), interest.StringFixed(2)),
		ErrPaymentBelowInterest,
	)
}

func WrapInvalidTransition(from, action string) *BusinessError {
	return NewBusinessError(
		KindState,
		ErrCodeInvalidTransition,
		fmt.Sprintf("Cannot %s a loan in state %s", action, from),
		ErrInvalidTransition,
	)
}

func WrapGuarantorCapReached(guarantorID string, active, limit int) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodeGuarantorCapReached,
		fmt.Sprintf("Guarantor %s already backs %d active loans, the cap is %d", guarantorID, active, limit),
		ErrGuarantorCapReached,
	)
}

func WrapInvalidLoanTerms(reason string) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodeInvalidLoanTerms,
		reason,
		ErrInvalidLoanTerms,
	)
}

func WrapUnknownMethod(method string) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodeUnknownMethod,
		fmt.Sprintf("Unknown amortization method %q", method),
		ErrUnknownMethod,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		KindInternal,
		ErrCodeDatabaseError,
		"Database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		KindInternal,
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}
