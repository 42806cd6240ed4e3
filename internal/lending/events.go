package lending

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newLoanEvent(eventType string, loan *domain.LoanRecord, amount int64, at time.Time) *domain.LoanEvent {
	return &domain.LoanEvent{
		ID:               uuid.New().String(),
		Type:             eventType,
		LoanID:           loan.ID,
		CustomerID:       loan.CustomerID,
		Amount:           amount,
		InstallmentsPaid: loan.InstallmentsPaid,
		OccurredAt:       at.UTC(),
	}
}

// publish sends a loan event. The operation that produced it has already
// committed, so failures are logged and never returned.
func (s *Service) publish(ctx context.Context, topic string, event *domain.LoanEvent) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal loan event", "event_id", event.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish loan event",
			"topic", topic,
			"event_id", event.ID,
			"loan_id", event.LoanID,
			"error", err,
		)
	}
}
