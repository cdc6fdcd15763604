package alert

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Signal carries a delinquency alert for a loan whose borrower keeps
// paying only interest. The engine decides whether to raise it; delivery
// is the collaborator's problem.
type Signal struct {
	LoanID            uuid.UUID `json:"loan_id"`
	LoanNumber        string    `json:"loan_number"`
	BorrowerID        uuid.UUID `json:"borrower_id"`
	InterestOnlyCount int       `json:"interest_only_count"`
}

// Notifier receives delinquency alert signals.
type Notifier interface {
	InterestOnlyStreak(ctx context.Context, sig Signal) error
}

// LogNotifier emits alert signals to the structured log.
type LogNotifier struct {
	log *logrus.Logger
}

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) InterestOnlyStreak(_ context.Context, sig Signal) error {
	n.log.WithFields(logrus.Fields{
		"loan_id":     sig.LoanID,
		"loan_number": sig.LoanNumber,
		"borrower_id": sig.BorrowerID,
		"count":       sig.InterestOnlyCount,
	}).Warn("borrower has reached the interest-only payment threshold, follow-up recommended")
	return nil
}
