package domain

// Decision is the outcome of the rate and eligibility policy.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDeclined Decision = "declined"
)

// Score signal names, in evaluation order.
const (
	SignalTimeliness   = "timeliness"
	SignalLoanVolume   = "loan_volume"
	SignalYearActivity = "year_activity"
	SignalLimitTier    = "limit_tier"
	SignalOverexposure = "overexposure"
)

// SignalResult records the effect of one scoring signal.
type SignalResult struct {
	Name    string `json:"name"`
	Penalty int    `json:"penalty"`
	Applied bool   `json:"applied"`
}

// ScoreResult is the output of the credit score engine. Score is the raw
// value and may be negative.
type ScoreResult struct {
	Score               int            `json:"score"`
	Signals             []SignalResult `json:"signals"`
	Overexposed         bool           `json:"overexposed"`
	OutstandingExposure int64          `json:"outstanding_exposure"`
}

// RateDecision is the output of the rate and eligibility policy.
type RateDecision struct {
	Decision      Decision `json:"decision"`
	Tier          string   `json:"tier,omitempty"`
	RequestedRate float64  `json:"requested_rate"`
	CorrectedRate float64  `json:"corrected_rate"`
}

// Approved reports whether the decision approves the loan.
func (d RateDecision) Approved() bool {
	return d.Decision == DecisionApproved
}

// CreditAssessment is produced fresh for every eligibility check or loan
// creation and never stored.
type CreditAssessment struct {
	ScoreResult
	RateDecision
	MonthlyInstallment int64 `json:"monthly_installment"`
}
