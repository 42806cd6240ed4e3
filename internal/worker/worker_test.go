package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func publishEvent(t *testing.T, b domain.EventBus, topic string, event domain.LoanEvent) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := b.Publish(context.Background(), topic, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitForEvents(t *testing.T, repo *repository.SQLRepository, loanID int64, want int) []*domain.LoanEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := repo.ListLoanEvents(context.Background(), loanID)
		if err != nil {
			t.Fatalf("ListLoanEvents failed: %v", err)
		}
		if len(events) >= want || time.Now().After(deadline) {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newTestRepo(t))

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != len(Topics) {
			t.Errorf("expected %d subscriptions, got %d", len(Topics), stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("JournalsLoanEvents", func(t *testing.T) {
		repo := newTestRepo(t)
		w := NewWorker(eventBus, repo)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		at := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
		created := domain.LoanEvent{
			ID: "evt-created", Type: domain.EventLoanCreated,
			LoanID: 4242, CustomerID: 7, Amount: 100000, OccurredAt: at,
		}
		paid := domain.LoanEvent{
			ID: "evt-paid", Type: domain.EventPaymentApplied,
			LoanID: 4242, CustomerID: 7, Amount: 9000, InstallmentsPaid: 1, OccurredAt: at.Add(time.Hour),
		}

		publishEvent(t, eventBus, domain.TopicLoanCreated, created)
		publishEvent(t, eventBus, domain.TopicPaymentApplied, paid)

		events := waitForEvents(t, repo, 4242, 2)
		if len(events) != 2 {
			t.Fatalf("expected 2 journaled events, got %d", len(events))
		}
		if events[0].ID != "evt-created" || events[1].ID != "evt-paid" {
			t.Errorf("unexpected journal order: %s, %s", events[0].ID, events[1].ID)
		}
		if events[1].InstallmentsPaid != 1 {
			t.Errorf("expected installments paid 1, got %d", events[1].InstallmentsPaid)
		}
	})

	t.Run("RedeliveryIsIdempotent", func(t *testing.T) {
		repo := newTestRepo(t)
		w := NewWorker(eventBus, repo)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		event := domain.LoanEvent{
			ID: "evt-dup", Type: domain.EventLoanCreated,
			LoanID: 5000, CustomerID: 1, Amount: 1000, OccurredAt: time.Now().UTC(),
		}
		publishEvent(t, eventBus, domain.TopicLoanCreated, event)
		publishEvent(t, eventBus, domain.TopicLoanCreated, event)

		waitForEvents(t, repo, 5000, 1)
		time.Sleep(50 * time.Millisecond)
		events, _ := repo.ListLoanEvents(context.Background(), 5000)
		if len(events) != 1 {
			t.Errorf("expected 1 event after redelivery, got %d", len(events))
		}
	})
}

type failingJournal struct{}

func (failingJournal) SaveLoanEvent(context.Context, *domain.LoanEvent) error {
	return errors.New("journal unavailable")
}

func TestHandleMessage(t *testing.T) {
	w := NewWorker(nil, failingJournal{})
	ctx := context.Background()

	t.Run("MalformedPayload", func(t *testing.T) {
		err := w.handleMessage(ctx, &domain.Message{ID: "m1", Payload: []byte("{not json")})
		if err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("MissingIDs", func(t *testing.T) {
		payload, _ := json.Marshal(domain.LoanEvent{Type: domain.EventLoanCreated})
		err := w.handleMessage(ctx, &domain.Message{ID: "m2", Payload: payload})
		if err == nil {
			t.Error("expected error for event without ids")
		}
	})

	t.Run("JournalFailure", func(t *testing.T) {
		payload, _ := json.Marshal(domain.LoanEvent{ID: "evt", LoanID: 1000})
		err := w.handleMessage(ctx, &domain.Message{ID: "m3", Payload: payload})
		if err == nil || err.Error() != "journal unavailable" {
			t.Errorf("expected journal error, got %v", err)
		}
	})
}
