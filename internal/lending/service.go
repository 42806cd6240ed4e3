// Package lending implements loan origination and the loan ledger on top of
// the scoring engine, the rate policy and the term builder.
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/terms"
)

var tracer = otel.Tracer("kestrel-lending")

// DeclineMessage is returned when a customer is not eligible for a loan.
const DeclineMessage = "We cannot approve your loan because your credit score is too low " +
	"or the requested amount exceeds your approved limit"

// EligibilityRequest is a non-binding loan quote request.
type EligibilityRequest = domain.LoanRequest

// Service runs lending operations. Cache, bus and metrics are optional.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	scorer  *scoring.Engine
	policy  *policy.Policy
	builder *terms.Builder
	metrics *Metrics
	cfg     domain.LendingConfig
	now     func() time.Time
}

type options struct {
	now     func() time.Time
	draw    func() int64
	policy  *policy.Policy
	metrics *Metrics
}

// Option configures a Service.
type Option func(*options)

// WithClock injects the clock used for scoring and loan dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLoanIDSource overrides the random loan id draw.
func WithLoanIDSource(draw func() int64) Option {
	return func(o *options) { o.draw = draw }
}

// WithPolicy replaces the default rate table.
func WithPolicy(p *policy.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics records decisions and payments.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewService wires a lending service.
func NewService(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.LendingConfig, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if o.policy == nil {
		p, err := policy.New(policy.DefaultTiers())
		if err != nil {
			return nil, fmt.Errorf("failed to compile rate policy: %w", err)
		}
		o.policy = p
	}

	builderOpts := []terms.Option{terms.WithClock(o.now)}
	if o.draw != nil {
		builderOpts = append(builderOpts, terms.WithDraw(o.draw))
	}

	return &Service{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		scorer:  scoring.NewEngineWithClock(o.now),
		policy:  o.policy,
		builder: terms.NewBuilder(repo, cfg, builderOpts...),
		metrics: o.metrics,
		cfg:     cfg,
		now:     o.now,
	}, nil
}

// CheckEligibility scores the customer and quotes terms without creating a
// loan. A declined customer gets Approved false and no terms.
func (s *Service) CheckEligibility(ctx context.Context, req EligibilityRequest) (out *domain.Eligibility, err error) {
	ctx, span := tracer.Start(ctx, "lending.CheckEligibility",
		trace.WithAttributes(attribute.Int64("customer_id", req.CustomerID)))
	defer func() { endSpan(span, err) }()

	assessment, err := s.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.observeDecision("eligibility", assessment)

	out = &domain.Eligibility{
		CustomerID: req.CustomerID,
		Approved:   assessment.Approved(),
		Assessment: assessment,
	}
	if out.Approved {
		out.InterestRate = req.InterestRate
		out.CorrectedInterestRate = assessment.CorrectedRate
		out.Tenure = req.Tenure
		out.MonthlyInstallment = assessment.MonthlyInstallment
	}

	span.SetAttributes(
		attribute.Int("score", assessment.Score),
		attribute.Bool("approved", out.Approved),
	)
	return out, nil
}

// CreateLoan runs the same gate as CheckEligibility and, when approved,
// persists a new loan at the corrected rate.
func (s *Service) CreateLoan(ctx context.Context, req domain.LoanRequest) (out *domain.LoanOutcome, err error) {
	ctx, span := tracer.Start(ctx, "lending.CreateLoan",
		trace.WithAttributes(attribute.Int64("customer_id", req.CustomerID)))
	defer func() { endSpan(span, err) }()

	assessment, err := s.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.observeDecision("create_loan", assessment)

	if !assessment.Approved() {
		slog.Info("loan declined",
			"customer_id", req.CustomerID,
			"score", assessment.Score,
			"overexposed", assessment.Overexposed,
		)
		return &domain.LoanOutcome{
			CustomerID: req.CustomerID,
			Approved:   false,
			Message:    DeclineMessage,
			Assessment: assessment,
		}, nil
	}

	quote := s.builder.Quote(req.Amount, req.Tenure, assessment.CorrectedRate)
	loan, err := s.builder.Bind(ctx, req.CustomerID, quote)
	if err != nil {
		return nil, err
	}

	s.metrics.observeLoanCreated(loan)
	s.invalidateStatement(ctx, loan.CustomerID)
	s.publish(ctx, domain.TopicLoanCreated, newLoanEvent(domain.EventLoanCreated, loan, loan.Amount, s.now()))

	slog.Info("loan created",
		"customer_id", loan.CustomerID,
		"loan_id", loan.ID,
		"amount", loan.Amount,
		"interest_rate", loan.InterestRate,
		"tier", assessment.Tier,
	)

	span.SetAttributes(attribute.Int64("loan_id", loan.ID))
	return &domain.LoanOutcome{
		CustomerID:         loan.CustomerID,
		LoanID:             loan.ID,
		Approved:           true,
		Message:            "your loan is approved with interest rate of " + strconv.FormatFloat(loan.InterestRate, 'f', -1, 64),
		MonthlyInstallment: loan.MonthlyInstallment,
		Loan:               loan,
		Assessment:         assessment,
	}, nil
}

// evaluate validates the request and assesses it against the customer's
// current loan history.
func (s *Service) evaluate(ctx context.Context, req domain.LoanRequest) (domain.CreditAssessment, error) {
	if err := req.Validate(); err != nil {
		return domain.CreditAssessment{}, err
	}

	customer, err := s.loadCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.CreditAssessment{}, err
	}

	history, err := s.repo.ListLoansByCustomer(ctx, customer.ID)
	if err != nil {
		return domain.CreditAssessment{}, domain.Internal("lending.evaluate", err)
	}

	return s.assess(customer, history, req)
}

// assess is the pure scoring and pricing step.
func (s *Service) assess(customer *domain.Customer, history []*domain.LoanRecord, req domain.LoanRequest) (domain.CreditAssessment, error) {
	score := s.scorer.Score(scoring.Input{
		Customer: customer,
		History:  history,
		Amount:   req.Amount,
	})

	decision, err := s.policy.Decide(score.Score, req.InterestRate)
	if err != nil {
		return domain.CreditAssessment{}, domain.Internal("lending.assess", err)
	}

	assessment := domain.CreditAssessment{ScoreResult: score, RateDecision: decision}
	if decision.Approved() {
		assessment.MonthlyInstallment = s.builder.Quote(req.Amount, req.Tenure, decision.CorrectedRate).MonthlyInstallment
	}
	return assessment, nil
}

// RegisterCustomer creates a customer with a limit derived from income.
func (s *Service) RegisterCustomer(ctx context.Context, req domain.RegisterCustomerRequest) (out *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "lending.RegisterCustomer")
	defer func() { endSpan(span, err) }()

	switch {
	case strings.TrimSpace(req.FirstName) == "":
		return nil, domain.Validationf("first_name is required")
	case strings.TrimSpace(req.LastName) == "":
		return nil, domain.Validationf("last_name is required")
	case req.Age <= 0:
		return nil, domain.Validationf("age must be positive")
	case req.MonthlyIncome <= 0:
		return nil, domain.Validationf("monthly_income must be positive")
	case strings.TrimSpace(req.PhoneNumber) == "":
		return nil, domain.Validationf("phone_number is required")
	}

	customer := &domain.Customer{
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		Age:           req.Age,
		MonthlyIncome: req.MonthlyIncome,
		PhoneNumber:   strings.TrimSpace(req.PhoneNumber),
		ApprovedLimit: domain.ApprovedLimitFor(req.MonthlyIncome),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, domain.Internal("lending.RegisterCustomer", err)
	}
	s.cacheCustomer(ctx, customer)

	slog.Info("customer registered",
		"customer_id", customer.ID,
		"approved_limit", customer.ApprovedLimit,
	)

	span.SetAttributes(attribute.Int64("customer_id", customer.ID))
	return customer, nil
}

// GetCustomer returns a registered customer.
func (s *Service) GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	if customerID <= 0 {
		return nil, domain.Validationf("customer_id must be positive")
	}
	return s.loadCustomer(ctx, customerID)
}

// loadCustomer reads through the cache. Customers never change once
// created, so a cached copy is always current.
func (s *Service) loadCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCustomer(ctx, customerID)
		if err != nil {
			slog.Warn("customer cache read failed", "customer_id", customerID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.NotFoundf("customer %d not found", customerID)
	}
	if err != nil {
		return nil, domain.Internal("lending.loadCustomer", err)
	}

	s.cacheCustomer(ctx, customer)
	return customer, nil
}

func (s *Service) cacheCustomer(ctx context.Context, customer *domain.Customer) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetCustomer(ctx, customer, s.cfg.CustomerTTL); err != nil {
		slog.Warn("customer cache write failed", "customer_id", customer.ID, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.PublicMessage(err))
	}
	span.End()
}
