// Package worker journals loan lifecycle events published on the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Journal persists loan events. SaveLoanEvent must ignore an event id it has
// already stored, since a bus may redeliver.
type Journal interface {
	SaveLoanEvent(ctx context.Context, event *domain.LoanEvent) error
}

// Topics are the topics the worker journals.
var Topics = []string{domain.TopicLoanCreated, domain.TopicPaymentApplied}

// Worker consumes loan events and appends them to the journal.
type Worker struct {
	bus     domain.EventBus
	journal Journal

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a journal worker.
func NewWorker(bus domain.EventBus, journal Journal) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to every loan topic. A failed subscription unwinds the
// ones already made.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range Topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
		if err != nil {
			for _, s := range w.subscriptions {
				_ = s.Unsubscribe()
			}
			w.subscriptions = nil
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("journal worker started", "topics", Topics)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.LoanEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse loan event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}
	if event.ID == "" || event.LoanID <= 0 {
		return errors.New("loan event without id or loan id")
	}

	if err := w.journal.SaveLoanEvent(ctx, &event); err != nil {
		slog.Error("failed to journal loan event",
			"event_id", event.ID,
			"loan_id", event.LoanID,
			"error", err,
		)
		return err
	}

	slog.Debug("loan event journaled",
		"event_id", event.ID,
		"type", event.Type,
		"loan_id", event.LoanID,
		"installments_paid", event.InstallmentsPaid,
	)
	return nil
}

// Stop unsubscribes from every topic.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	w.subscriptions = nil

	slog.Info("journal worker stopped")
	return errors.Join(errs...)
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
