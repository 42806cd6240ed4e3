package domain

import "time"

// Loan event types.
const (
	EventLoanCreated    = "loan.created"
	EventPaymentApplied = "loan.payment_applied"
)

// LoanEvent is an entry of the loan journal.
type LoanEvent struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	LoanID           int64     `json:"loan_id"`
	CustomerID       int64     `json:"customer_id"`
	Amount           int64     `json:"amount"`
	InstallmentsPaid int       `json:"installments_paid"`
	OccurredAt       time.Time `json:"occurred_at"`
}
