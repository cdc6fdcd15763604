package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/savia-coop/cartera-engine/internal/domain"
	"github.com/savia-coop/cartera-engine/internal/service"
	customError "github.com/savia-coop/cartera-engine/pkg/errors"
	"github.com/savia-coop/cartera-engine/pkg/response"
)

type LoanHandler struct {
	service   *service.LoanService
	validator *validator.Validate
	log       *logrus.Logger
}

func NewLoanHandler(service *service.LoanService, log *logrus.Logger) *LoanHandler {
	v := validator.New()
	registerDecimalValidations(v)

	return &LoanHandler{
		service:   service,
		validator: v,
		log:       log,
	}
}

// registerDecimalValidations wires the decimal_gt / decimal_gte tags used
// on request DTOs; validator has no native shopspring support.
func registerDecimalValidations(v *validator.Validate) {
	_ = v.RegisterValidation("decimal_gt", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return value.GreaterThan(bound)
	})

	_ = v.RegisterValidation("decimal_gte", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return value.GreaterThanOrEqual(bound)
	})
}

// CreateLoan handles POST /api/v1/loans
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var request domain.CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), &request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, loan)
}

// GetLoan handles GET /api/v1/loans/{loanId}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "loanId")
	if !ok {
		return
	}

	result, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, result)
}

// GetSchedule handles GET /api/v1/loans/{loanId}/schedule
func (h *LoanHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "loanId")
	if !ok {
		return
	}

	result, err := h.service.GetSchedule(r.Context(), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, result)
}

// Approve handles POST /api/v1/loans/{loanId}/approve
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// Activate handles POST /api/v1/loans/{loanId}/activate
func (h *LoanHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Activate)
}

// Cancel handles POST /api/v1/loans/{loanId}/cancel
func (h *LoanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// RevertToDraft handles POST /api/v1/loans/{loanId}/revert
func (h *LoanHandler) RevertToDraft(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.RevertToDraft)
}

// RegisterPayment handles POST /api/v1/installments/{installmentId}/payments
func (h *LoanHandler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	installmentID, ok := h.pathID(w, r, "installmentId")
	if !ok {
		return
	}

	var request domain.RegisterPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	result, err := h.service.RegisterPayment(r.Context(), installmentID, &request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, result)
}

// DeletePayment handles DELETE /api/v1/payments/{paymentId}
func (h *LoanHandler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathID(w, r, "paymentId")
	if !ok {
		return
	}

	if err := h.service.DeletePayment(r.Context(), paymentID); err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, map[string]string{"deleted": paymentID.String()})
}

// Vencida handles GET /api/v1/reports/vencida?as_of=YYYY-MM-DD
func (h *LoanHandler) Vencida(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.BadRequest(w, "as_of must be formatted as YYYY-MM-DD", err)
			return
		}
		asOf = parsed
	}

	rows, err := h.service.Vencida(r.Context(), asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, rows)
}

func (h *LoanHandler) transition(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id uuid.UUID) (*domain.Loan, error)) {
	loanID, ok := h.pathID(w, r, "loanId")
	if !ok {
		return
	}

	loan, err := action(r.Context(), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Success(w, loan)
}

func (h *LoanHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(w, name+" must be a valid UUID", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *LoanHandler) writeError(w http.ResponseWriter, err error) {
	var be *customError.BusinessError
	status := http.StatusInternalServerError
	code := ""
	message := "internal error"

	if errors.As(err, &be) {
		code = be.Code
		message = be.Message
		switch be.Kind {
		case customError.KindValidation, customError.KindUser:
			status = http.StatusBadRequest
		case customError.KindState:
			status = http.StatusConflict
		case customError.KindNotFound:
			status = http.StatusNotFound
		default:
			status = http.StatusInternalServerError
		}
	}

	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}

	response.ErrorWithCode(w, status, code, message, err)
}
