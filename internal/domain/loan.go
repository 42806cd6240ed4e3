package domain

import "time"

// LoanRecord is a persisted loan. MonthlyInstallment is fixed at creation and
// InstallmentsPaid only moves up by one per accepted payment, capped at Tenure.
type LoanRecord struct {
	ID                 int64     `json:"loan_id"`
	CustomerID         int64     `json:"customer_id"`
	Amount             int64     `json:"loan_amount"`
	Tenure             int       `json:"tenure"`
	InterestRate       float64   `json:"interest_rate"`
	MonthlyInstallment int64     `json:"monthly_installment"`
	InstallmentsPaid   int       `json:"emis_paid_on_time"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
}

// RemainingInstallments is the number of installments still due.
func (l *LoanRecord) RemainingInstallments() int {
	return l.Tenure - l.InstallmentsPaid
}

// AmountPaid is the sum of installments paid so far.
func (l *LoanRecord) AmountPaid() int64 {
	return int64(l.InstallmentsPaid) * l.MonthlyInstallment
}

// Outstanding estimates the remaining balance as remaining installments times
// the fixed installment. Interest is not amortized out.
func (l *LoanRecord) Outstanding() int64 {
	return int64(l.RemainingInstallments()) * l.MonthlyInstallment
}

// FullyRepaid reports whether every installment has been paid.
func (l *LoanRecord) FullyRepaid() bool {
	return l.InstallmentsPaid >= l.Tenure
}

// LoanRequest is a request to quote or open a loan.
type LoanRequest struct {
	CustomerID   int64   `json:"customer_id"`
	Amount       int64   `json:"loan_amount"`
	InterestRate float64 `json:"interest_rate"`
	Tenure       int     `json:"tenure"`
}

// Validate checks the request fields that every quote or loan needs.
func (r LoanRequest) Validate() error {
	switch {
	case r.CustomerID <= 0:
		return Validationf("customer_id is required")
	case r.Amount <= 0:
		return Validationf("loan_amount must be positive")
	case r.InterestRate < 0:
		return Validationf("interest_rate must not be negative")
	case r.Tenure <= 0:
		return Validationf("tenure must be positive")
	}
	return nil
}

// Eligibility is the answer to a non-binding eligibility check.
// Approved is false when the customer is not eligible; the terms are then empty.
type Eligibility struct {
	CustomerID            int64   `json:"customer_id"`
	Approved              bool    `json:"approval"`
	InterestRate          float64 `json:"interest_rate"`
	CorrectedInterestRate float64 `json:"corrected_interest_rate"`
	Tenure                int     `json:"tenure,omitempty"`
	MonthlyInstallment    int64   `json:"monthly_installment,omitempty"`

	Assessment CreditAssessment `json:"-"`
}

// LoanOutcome is the answer to a binding loan creation request.
type LoanOutcome struct {
	CustomerID         int64       `json:"customer_id"`
	LoanID             int64       `json:"loan_id,omitempty"`
	Approved           bool        `json:"loan_approved"`
	Message            string      `json:"message"`
	MonthlyInstallment int64       `json:"monthly_installment,omitempty"`
	Loan               *LoanRecord `json:"-"`

	Assessment CreditAssessment `json:"-"`
}

// StatementLine summarizes one loan of a customer.
type StatementLine struct {
	CustomerID         int64   `json:"customer_id"`
	LoanID             int64   `json:"loan_id"`
	Principal          int64   `json:"principal"`
	InterestRate       float64 `json:"interest_rate"`
	AmountPaid         int64   `json:"amount_paid"`
	MonthlyInstallment int64   `json:"monthly_installment"`
	RepaymentsLeft     int     `json:"repayments_left"`
}

// StatementLineFor builds the statement line of a loan.
func StatementLineFor(l *LoanRecord) StatementLine {
	return StatementLine{
		CustomerID:         l.CustomerID,
		LoanID:             l.ID,
		Principal:          l.Amount,
		InterestRate:       l.InterestRate,
		AmountPaid:         l.AmountPaid(),
		MonthlyInstallment: l.MonthlyInstallment,
		RepaymentsLeft:     l.RemainingInstallments(),
	}
}

// LoanDetails is a loan joined with its owner's public profile.
type LoanDetails struct {
	LoanID             int64           `json:"loan_id"`
	Customer           CustomerProfile `json:"customer"`
	Amount             int64           `json:"loan_amount"`
	InterestRate       float64         `json:"interest_rate"`
	MonthlyInstallment int64           `json:"monthly_installment"`
	Tenure             int             `json:"tenure"`
	InstallmentsPaid   int             `json:"emis_paid_on_time"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
}
