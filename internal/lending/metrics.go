package lending

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics holds the lending Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	decisions    *prometheus.CounterVec
	scores       prometheus.Histogram
	loansCreated prometheus.Counter
	principal    prometheus.Counter
	payments     *prometheus.CounterVec
}

// NewMetrics creates the lending collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "lending",
			Name:      "decisions_total",
			Help:      "Credit decisions by operation, outcome and rate tier.",
		}, []string{"operation", "decision", "tier"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Subsystem: "lending",
			Name:      "credit_score",
			Help:      "Raw credit scores computed for loan requests.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		loansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "lending",
			Name:      "loans_created_total",
			Help:      "Loans created.",
		}),
		principal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "lending",
			Name:      "principal_issued_total",
			Help:      "Sum of principal across created loans.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "lending",
			Name:      "payments_total",
			Help:      "Payment attempts by outcome (applied, rejected, conflict).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.decisions, m.scores, m.loansCreated, m.principal, m.payments)
	return m
}

func (m *Metrics) observeDecision(operation string, a domain.CreditAssessment) {
	if m == nil {
		return
	}
	tier := a.Tier
	if tier == "" {
		tier = "none"
	}
	m.decisions.WithLabelValues(operation, string(a.Decision), tier).Inc()
	m.scores.Observe(float64(a.Score))
}

func (m *Metrics) observeLoanCreated(loan *domain.LoanRecord) {
	if m == nil {
		return
	}
	m.loansCreated.Inc()
	m.principal.Add(float64(loan.Amount))
}

func (m *Metrics) observePayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}
