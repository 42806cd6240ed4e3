// Package policy turns a credit score into an eligibility decision and an
// applied interest rate. Tier conditions are CEL expressions over the
// variables score (int) and rate (double).
package policy

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tier is one row of the rate table.
type Tier struct {
	Name      string
	Condition string
	Decision  domain.Decision

	// MinRate is the floor applied to the requested rate. Zero keeps the
	// requested rate.
	MinRate float64
}

// DefaultTiers is the standard rate table. Scores of exactly 10, 30 and 50
// match no tier and are declined.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "prime", Condition: "score > 50", Decision: domain.DecisionApproved},
		{Name: "standard", Condition: "score > 30 && score < 50", Decision: domain.DecisionApproved, MinRate: 12},
		{Name: "subprime", Condition: "score > 10 && score < 30", Decision: domain.DecisionApproved, MinRate: 16},
		{Name: "decline", Condition: "score < 10", Decision: domain.DecisionDeclined, MinRate: 16},
	}
}

type compiledTier struct {
	Tier
	program cel.Program
}

// Policy evaluates compiled tiers in order; the first match wins. It is
// read-only after construction and safe for concurrent use.
type Policy struct {
	tiers []compiledTier
}

// New compiles tiers into a policy.
func New(tiers []Tier) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("score", cel.IntType),
		cel.Variable("rate", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Policy{tiers: make([]compiledTier, 0, len(tiers))}
	for _, t := range tiers {
		ast, issues := env.Compile(t.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile tier %s: %w", t.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("tier %s: condition must be boolean, got %s", t.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for tier %s: %w", t.Name, err)
		}
		p.tiers = append(p.tiers, compiledTier{Tier: t, program: prg})
	}
	return p, nil
}

// MustDefault compiles DefaultTiers and panics on failure.
func MustDefault() *Policy {
	p, err := New(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return p
}

// Decide maps a score and requested rate to a decision. When no tier matches
// the loan is declined and the requested rate is echoed.
func (p *Policy) Decide(score int, requestedRate float64) (domain.RateDecision, error) {
	activation := map[string]any{
		"score": int64(score),
		"rate":  requestedRate,
	}

	for _, t := range p.tiers {
		out, _, err := t.program.Eval(activation)
		if err != nil {
			return domain.RateDecision{}, fmt.Errorf("evaluate tier %s: %w", t.Name, err)
		}
		if out != types.True {
			continue
		}
		return domain.RateDecision{
			Decision:      t.Decision,
			Tier:          t.Name,
			RequestedRate: requestedRate,
			CorrectedRate: math.Max(requestedRate, t.MinRate),
		}, nil
	}

	return domain.RateDecision{
		Decision:      domain.DecisionDeclined,
		RequestedRate: requestedRate,
		CorrectedRate: requestedRate,
	}, nil
}

// Tiers returns the loaded tier definitions in evaluation order.
func (p *Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = t.Tier
	}
	return out
}
