// Package scoring computes a customer's credit score from their loan history.
package scoring

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score penalties and thresholds.
const (
	BaseScore = 100

	LatePenaltyPerLoan = 5

	MaxLoanCount      = 5
	LoanVolumePenalty = 10

	MaxLoansThisYear    = 2
	YearActivityPenalty = 10

	LowLimitThreshold int64 = 50_000
	LowLimitPenalty         = 15
)

// Engine scores customers against their loan history.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a score engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates a score engine with an injected clock.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Input contains everything the score depends on.
type Input struct {
	Customer *domain.Customer
	History  []*domain.LoanRecord
	Amount   int64 // requested principal
}

// Score applies every signal in order to the same history snapshot. The
// result is the raw score; it is not clamped and may be negative.
func (e *Engine) Score(in Input) domain.ScoreResult {
	year := e.now().UTC().Year()

	var (
		paidOnTime int
		thisYear   int
		exposure   int64
	)
	for _, l := range in.History {
		paidOnTime += l.InstallmentsPaid
		if l.StartDate.UTC().Year() == year {
			thisYear++
		}
		exposure += l.Outstanding()
	}
	loanCount := len(in.History)

	score := BaseScore
	signals := make([]domain.SignalResult, 0, 5)
	apply := func(name string, applied bool, penalty int) {
		if !applied {
			penalty = 0
		}
		score -= penalty
		signals = append(signals, domain.SignalResult{Name: name, Penalty: penalty, Applied: applied})
	}

	apply(domain.SignalTimeliness, paidOnTime < loanCount, LatePenaltyPerLoan*(loanCount-paidOnTime))
	apply(domain.SignalLoanVolume, loanCount > MaxLoanCount, LoanVolumePenalty)
	apply(domain.SignalYearActivity, thisYear > MaxLoansThisYear, YearActivityPenalty)
	apply(domain.SignalLimitTier, in.Customer.ApprovedLimit < LowLimitThreshold, LowLimitPenalty)

	overexposed := exposure+in.Amount > in.Customer.ApprovedLimit
	overexposure := domain.SignalResult{Name: domain.SignalOverexposure, Applied: overexposed}
	if overexposed {
		overexposure.Penalty = score
		score = 0
	}
	signals = append(signals, overexposure)

	return domain.ScoreResult{
		Score:               score,
		Signals:             signals,
		Overexposed:         overexposed,
		OutstandingExposure: exposure,
	}
}
