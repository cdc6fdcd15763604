package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testInstallment() *Installment {
	return &Installment{
		ID:        uuid.New(),
		LoanID:    uuid.New(),
		Number:    1,
		DueDate:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Principal: decimal.NewFromFloat(94.62),
		Interest:  decimal.NewFromFloat(12.00),
		Total:     decimal.NewFromFloat(106.62),
	}
}

func payment(amount float64) *Payment {
	return &Payment{
		ID:     uuid.New(),
		Amount: decimal.NewFromFloat(amount),
	}
}

func TestInstallmentState(t *testing.T) {
	beforeDue := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	afterDue := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		payments        []*Payment
		today           time.Time
		wantStatus      string
		wantOutstanding decimal.Decimal
		wantDaysOverdue int
	}{
		{
			name:            "untouched before due date",
			payments:        nil,
			today:           beforeDue,
			wantStatus:      InstallmentStatusPending,
			wantOutstanding: decimal.NewFromFloat(106.62),
		},
		{
			name:            "untouched past due date",
			payments:        nil,
			today:           afterDue,
			wantStatus:      InstallmentStatusOverdue,
			wantOutstanding: decimal.NewFromFloat(106.62),
			wantDaysOverdue: 10,
		},
		{
			name:            "partially covered before due date",
			payments:        []*Payment{payment(50)},
			today:           beforeDue,
			wantStatus:      InstallmentStatusPartial,
			wantOutstanding: decimal.NewFromFloat(56.62),
		},
		{
			name:            "partially covered past due date",
			payments:        []*Payment{payment(50)},
			today:           afterDue,
			wantStatus:      InstallmentStatusPartial,
			wantOutstanding: decimal.NewFromFloat(56.62),
			wantDaysOverdue: 10,
		},
		{
			name:            "fully covered",
			payments:        []*Payment{payment(50), payment(56.62)},
			today:           afterDue,
			wantStatus:      InstallmentStatusPaid,
			wantOutstanding: decimal.Zero,
		},
		{
			name:            "covered within epsilon",
			payments:        []*Payment{payment(106.61)},
			today:           afterDue,
			wantStatus:      InstallmentStatusPaid,
			wantOutstanding: decimal.NewFromFloat(0.01),
		},
		{
			name:            "short by more than epsilon",
			payments:        []*Payment{payment(106.60)},
			today:           afterDue,
			wantStatus:      InstallmentStatusPartial,
			wantOutstanding: decimal.NewFromFloat(0.02),
			wantDaysOverdue: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installment := testInstallment()
			state := installment.State(tt.payments, tt.today)

			assert.Equal(t, tt.wantStatus, state.Status)
			assert.True(t, state.Outstanding.Equal(tt.wantOutstanding),
				"outstanding %v, want %v", state.Outstanding, tt.wantOutstanding)
			assert.Equal(t, tt.wantDaysOverdue, state.DaysOverdue)
		})
	}
}

func TestInstallmentStateIdempotent(t *testing.T) {
	installment := testInstallment()
	payments := []*Payment{payment(12.00), payment(40.50)}
	today := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	first := installment.State(payments, today)
	second := installment.State(payments, today)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.DaysOverdue, second.DaysOverdue)
	assert.True(t, first.PaidToDate.Equal(second.PaidToDate))
	assert.True(t, first.Outstanding.Equal(second.Outstanding))
}

func TestInstallmentStateNoDaysOverdueBeforeDue(t *testing.T) {
	installment := testInstallment()
	state := installment.State([]*Payment{payment(10)}, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, InstallmentStatusPartial, state.Status)
	assert.Equal(t, 0, state.DaysOverdue)
}
