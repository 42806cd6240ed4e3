package lending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ApplyPayment records one installment on a loan. The amount must equal the
// loan's monthly installment exactly; the paid count moves up by one.
func (s *Service) ApplyPayment(ctx context.Context, customerID, loanID, amount int64) (out *domain.LoanRecord, err error) {
	ctx, span := tracer.Start(ctx, "lending.ApplyPayment", trace.WithAttributes(
		attribute.Int64("customer_id", customerID),
		attribute.Int64("loan_id", loanID),
	))
	defer func() { endSpan(span, err) }()

	if amount <= 0 {
		return nil, domain.Validationf("payment_amount must be positive")
	}

	loan, err := s.loadOwnedLoan(ctx, customerID, loanID)
	if err != nil {
		return nil, err
	}

	retries := max(s.cfg.PaymentRetries, 0)
	for attempt := 0; attempt <= retries; attempt++ {
		if amount != loan.MonthlyInstallment {
			s.metrics.observePayment("rejected")
			return nil, domain.Validationf("payment amount %d does not match monthly installment %d",
				amount, loan.MonthlyInstallment)
		}
		if loan.FullyRepaid() {
			s.metrics.observePayment("rejected")
			return nil, domain.Validationf("loan %d is fully repaid", loan.ID)
		}

		err := s.repo.IncrementInstallmentsPaid(ctx, loan.ID, loan.InstallmentsPaid)
		if err == nil {
			loan.InstallmentsPaid++
			break
		}
		if !errors.Is(err, domain.ErrStaleWrite) {
			return nil, domain.Internal("lending.ApplyPayment", err)
		}

		s.metrics.observePayment("conflict")
		slog.Debug("payment lost a race, retrying",
			"loan_id", loan.ID,
			"attempt", attempt+1,
		)

		if attempt == retries {
			return nil, domain.Internal("lending.ApplyPayment",
				fmt.Errorf("loan %d: payment retries exhausted: %w", loan.ID, err))
		}

		loan, err = s.repo.GetLoan(ctx, loan.ID)
		if err != nil {
			return nil, domain.Internal("lending.ApplyPayment", err)
		}
	}

	s.metrics.observePayment("applied")
	s.invalidateStatement(ctx, loan.CustomerID)
	s.publish(ctx, domain.TopicPaymentApplied, newLoanEvent(domain.EventPaymentApplied, loan, amount, s.now()))

	slog.Info("payment applied",
		"customer_id", loan.CustomerID,
		"loan_id", loan.ID,
		"installments_paid", loan.InstallmentsPaid,
		"tenure", loan.Tenure,
	)
	return loan, nil
}

// GetStatement lists every loan of the customer, ordered by loan id. The
// loan id only selects which customer/loan pair must exist.
func (s *Service) GetStatement(ctx context.Context, customerID, loanID int64) (out []domain.StatementLine, err error) {
	ctx, span := tracer.Start(ctx, "lending.GetStatement", trace.WithAttributes(
		attribute.Int64("customer_id", customerID),
		attribute.Int64("loan_id", loanID),
	))
	defer func() { endSpan(span, err) }()

	if _, err := s.loadOwnedLoan(ctx, customerID, loanID); err != nil {
		return nil, err
	}

	if lines, ok := s.cachedStatement(ctx, customerID); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return lines, nil
	}

	loans, err := s.repo.ListLoansByCustomer(ctx, customerID)
	if err != nil {
		return nil, domain.Internal("lending.GetStatement", err)
	}

	lines := make([]domain.StatementLine, 0, len(loans))
	for _, l := range loans {
		lines = append(lines, domain.StatementLineFor(l))
	}

	s.cacheStatement(ctx, customerID, lines)
	return lines, nil
}

// GetLoan returns a loan joined with its owner's public profile.
func (s *Service) GetLoan(ctx context.Context, loanID int64) (out *domain.LoanDetails, err error) {
	ctx, span := tracer.Start(ctx, "lending.GetLoan",
		trace.WithAttributes(attribute.Int64("loan_id", loanID)))
	defer func() { endSpan(span, err) }()

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	customer, err := s.loadCustomer(ctx, loan.CustomerID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, domain.NotFoundf("loan %d not found", loanID)
		}
		return nil, err
	}

	return &domain.LoanDetails{
		LoanID:             loan.ID,
		Customer:           customer.Profile(),
		Amount:             loan.Amount,
		InterestRate:       loan.InterestRate,
		MonthlyInstallment: loan.MonthlyInstallment,
		Tenure:             loan.Tenure,
		InstallmentsPaid:   loan.InstallmentsPaid,
		StartDate:          loan.StartDate,
		EndDate:            loan.EndDate,
	}, nil
}

// ListLoanEvents returns the journal of a loan.
func (s *Service) ListLoanEvents(ctx context.Context, loanID int64) ([]*domain.LoanEvent, error) {
	if _, err := s.loadLoan(ctx, loanID); err != nil {
		return nil, err
	}

	events, err := s.repo.ListLoanEvents(ctx, loanID)
	if err != nil {
		return nil, domain.Internal("lending.ListLoanEvents", err)
	}
	if events == nil {
		events = []*domain.LoanEvent{}
	}
	return events, nil
}

func (s *Service) loadLoan(ctx context.Context, loanID int64) (*domain.LoanRecord, error) {
	if loanID <= 0 {
		return nil, domain.Validationf("loan_id must be positive")
	}

	loan, err := s.repo.GetLoan(ctx, loanID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.NotFoundf("loan %d not found", loanID)
	}
	if err != nil {
		return nil, domain.Internal("lending.loadLoan", err)
	}
	return loan, nil
}

// loadOwnedLoan loads a loan and checks that customerID owns it. A pair that
// does not match is reported as not found.
func (s *Service) loadOwnedLoan(ctx context.Context, customerID, loanID int64) (*domain.LoanRecord, error) {
	if customerID <= 0 {
		return nil, domain.Validationf("customer_id must be positive")
	}

	if _, err := s.loadCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.CustomerID != customerID {
		return nil, domain.NotFoundf("loan %d not found for customer %d", loanID, customerID)
	}
	return loan, nil
}

func (s *Service) cachedStatement(ctx context.Context, customerID int64) ([]domain.StatementLine, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, err := s.cache.Get(ctx, cache.StatementKey(customerID))
	if err != nil {
		slog.Warn("statement cache read failed", "customer_id", customerID, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var lines []domain.StatementLine
	if err := json.Unmarshal(data, &lines); err != nil {
		slog.Warn("discarding unreadable cached statement", "customer_id", customerID, "error", err)
		return nil, false
	}
	return lines, true
}

func (s *Service) cacheStatement(ctx context.Context, customerID int64, lines []domain.StatementLine) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(lines)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.StatementKey(customerID), data, s.cfg.StatementTTL); err != nil {
		slog.Warn("statement cache write failed", "customer_id", customerID, "error", err)
	}
}

func (s *Service) invalidateStatement(ctx context.Context, customerID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.StatementKey(customerID)); err != nil {
		slog.Warn("statement cache invalidation failed", "customer_id", customerID, "error", err)
	}
}
