package terms

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Loan id space used for random draws and the gap scan. Ids above MaxLoanID
// are only handed out once this range is full.
const (
	MinLoanID int64 = 1000
	MaxLoanID int64 = 9999
)

// LoanStore is the subset of the repository the builder needs.
type LoanStore interface {
	LoanIDExists(ctx context.Context, loanID int64) (bool, error)
	FirstFreeLoanID(ctx context.Context, lo, hi int64) (int64, bool, error)
	MaxLoanID(ctx context.Context) (int64, error)
	CreateLoan(ctx context.Context, loan *domain.LoanRecord) error
}

// Quote holds computed, unpersisted loan terms.
type Quote struct {
	Amount             int64
	Tenure             int
	InterestRate       float64
	MonthlyInstallment int64
}

// Builder computes loan terms and binds them into persisted loans.
type Builder struct {
	store       LoanStore
	maxDraws    int
	maxAttempts int
	draw        func() int64
	now         func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithDraw overrides the random loan id source.
func WithDraw(draw func() int64) Option {
	return func(b *Builder) { b.draw = draw }
}

// WithClock overrides the clock used for start dates.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a term builder over store.
func NewBuilder(store LoanStore, cfg domain.LendingConfig, opts ...Option) *Builder {
	b := &Builder{
		store:       store,
		maxDraws:    cfg.MaxRandomDraws,
		maxAttempts: cfg.MaxInsertAttempts,
		draw:        randomLoanID,
		now:         time.Now,
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func randomLoanID() int64 {
	return rand.Int64N(MaxLoanID-MinLoanID+1) + MinLoanID
}

// Quote computes terms at the applied rate without touching the store.
func (b *Builder) Quote(amount int64, tenure int, appliedRate float64) Quote {
	return Quote{
		Amount:             amount,
		Tenure:             tenure,
		InterestRate:       appliedRate,
		MonthlyInstallment: MonthlyInstallment(amount, tenure, appliedRate),
	}
}

// Bind allocates a loan id and persists a new loan for customerID with the
// quoted terms. A duplicate key on insert restarts allocation.
func (b *Builder) Bind(ctx context.Context, customerID int64, q Quote) (*domain.LoanRecord, error) {
	start := StartOfDay(b.now())
	loan := &domain.LoanRecord{
		CustomerID:         customerID,
		Amount:             q.Amount,
		Tenure:             q.Tenure,
		InterestRate:       q.InterestRate,
		MonthlyInstallment: q.MonthlyInstallment,
		InstallmentsPaid:   0,
		StartDate:          start,
		EndDate:            AddMonths(start, q.Tenure),
	}

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		id, err := b.AllocateID(ctx)
		if err != nil {
			return nil, domain.Internal("terms.Bind", err)
		}
		loan.ID = id

		err = b.store.CreateLoan(ctx, loan)
		if err == nil {
			return loan, nil
		}
		if !errors.Is(err, domain.ErrDuplicateKey) {
			return nil, domain.Internal("terms.Bind", err)
		}
	}

	return nil, domain.Internal("terms.Bind",
		fmt.Errorf("loan id allocation exhausted after %d attempts", b.maxAttempts))
}

// AllocateID picks an unused loan id: random draws first, then the lowest
// free id in [MinLoanID, MaxLoanID], then one past the highest id in use.
// The id is not reserved; the store's primary key settles races.
func (b *Builder) AllocateID(ctx context.Context) (int64, error) {
	for i := 0; i < b.maxDraws; i++ {
		id := b.draw()
		exists, err := b.store.LoanIDExists(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("check loan id %d: %w", id, err)
		}
		if !exists {
			return id, nil
		}
	}

	id, ok, err := b.store.FirstFreeLoanID(ctx, MinLoanID, MaxLoanID)
	if err != nil {
		return 0, fmt.Errorf("scan free loan ids: %w", err)
	}
	if ok {
		return id, nil
	}

	highest, err := b.store.MaxLoanID(ctx)
	if err != nil {
		return 0, fmt.Errorf("max loan id: %w", err)
	}
	return max(highest, MaxLoanID) + 1, nil
}
