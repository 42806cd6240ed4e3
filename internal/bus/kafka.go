package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Kafka header names carrying the message envelope.
const (
	headerMessageID = "message_id"
	headerTimestamp = "timestamp"
)

// KafkaBus implements EventBus on Kafka. Payloads travel as the record value
// and the envelope as headers. Subscriptions join the configured consumer
// group and commit offsets only after the handler succeeds.
type KafkaBus struct {
	mu            sync.Mutex
	writer        *kafkago.Writer
	brokers       []string
	group         string
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

// Backoff bounds for failed fetches and handler retries.
const (
	kafkaMinBackoff = 100 * time.Millisecond
	kafkaMaxBackoff = 5 * time.Second
)

// kafkaReader is the part of *kafkago.Reader a subscription uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type kafkaSubscription struct {
	id         string
	topic      string
	reader     kafkaReader
	cancel     context.CancelFunc
	done       chan struct{}
	bus        *KafkaBus
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	group := cfg.KafkaConsumerGroup
	if group == "" {
		group = "kestrel"
	}

	return &KafkaBus{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.KafkaBrokers...),
			Balancer:     &kafkago.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafkago.RequireAll,
		},
		brokers:       cfg.KafkaBrokers,
		group:         group,
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish writes one record to topic.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := newMessage(topic, payload)

	err := b.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(msg.ID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: headerMessageID, Value: []byte(msg.ID)},
			{Key: headerTimestamp, Value: []byte(strconv.FormatInt(msg.Timestamp, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer-group reader for topic.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:    uuid.New().String(),
		topic: topic,
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  b.brokers,
			Topic:    topic,
			GroupID:  b.group,
			MinBytes: 1,
			MaxBytes: 10 * 1024 * 1024, // 10 MB
		}),
		cancel:     cancel,
		done:       make(chan struct{}),
		bus:        b,
		minBackoff: kafkaMinBackoff,
		maxBackoff: kafkaMaxBackoff,
	}

	go sub.consume(subCtx, handler)

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// consume delivers records in order. A record's offset is committed only
// after its handler succeeds; a failing handler is retried with backoff
// until it succeeds or the subscription stops, so a later commit never
// skips it.
func (s *kafkaSubscription) consume(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)

	backoff := s.minBackoff
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			slog.Warn("kafka fetch failed", "topic", s.topic, "retry_in", backoff, "error", err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff

		if !s.deliver(ctx, handler, m) {
			return
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Error("kafka commit failed",
				"topic", m.Topic,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

// deliver runs handler until it succeeds. It returns false when ctx ends
// first, leaving the record uncommitted.
func (s *kafkaSubscription) deliver(ctx context.Context, handler domain.MessageHandler, m kafkago.Message) bool {
	msg := toMessage(m)
	backoff := s.minBackoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		slog.Error("handler error",
			"topic", m.Topic,
			"partition", m.Partition,
			"offset", m.Offset,
			"message_id", msg.ID,
			"attempt", attempt,
			"retry_in", backoff,
			"error", err,
		)
		if !sleepCtx(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func toMessage(m kafkago.Message) *domain.Message {
	msg := &domain.Message{
		Topic:     m.Topic,
		Payload:   m.Value,
		Metadata:  make(map[string]string, len(m.Headers)),
		Timestamp: m.Time.UnixNano(),
	}
	for _, h := range m.Headers {
		switch h.Key {
		case headerMessageID:
			msg.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				msg.Timestamp = ts
			}
		default:
			msg.Metadata[h.Key] = string(h.Value)
		}
	}
	if msg.ID == "" {
		msg.ID = string(m.Key)
	}
	return msg
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range b.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close stops every subscription and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.stop()
	}
	return b.writer.Close()
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Unsubscribe stops the reader and leaves the consumer group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.stop()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
