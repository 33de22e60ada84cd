package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the consuming half of a Kafka consumer group member
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader joins groupID on topic. A new group starts at the oldest offset.
func NewKafkaReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}

// Relay consumes envelopes and emails them. Every fetched message is
// committed once handled, whether it was delivered, invalid or failed.
type Relay struct {
	reader  MessageReader
	sender  Sender
	dedup   Dedup
	subject string
	logger  *slog.Logger
}

// NewRelay creates a relay. dedup may be nil.
func NewRelay(reader MessageReader, sender Sender, dedup Dedup, subject string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = "Notification from Typeface"
	}
	return &Relay{reader: reader, sender: sender, dedup: dedup, subject: subject, logger: logger}
}

// Run handles messages until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	backoff := 100 * time.Millisecond
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 100 * time.Millisecond

		r.Handle(ctx, msg)
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("failed to commit message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Handle processes one message. It never fails: problems are logged and counted.
func (r *Relay) Handle(ctx context.Context, msg kafka.Message) {
	env, ok := ParseEnvelope(msg.Value)
	if !ok {
		metrics.ObserveNotification("deliver", "invalid")
		r.logger.Warn("ignoring invalid notification envelope",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		return
	}

	key := deliveryKey(msg.Topic, msg.Partition, msg.Offset)
	if r.dedup != nil {
		seen, err := r.dedup.Seen(ctx, key)
		if err != nil {
			r.logger.Warn("dedup lookup failed", slog.String("error", err.Error()))
		}
		if seen {
			metrics.ObserveNotification("deliver", "duplicate")
			return
		}
	}

	if err := r.sender.Send(ctx, env.Email, r.subject, env.Message); err != nil {
		err = domain.Upstream("mail transport failed", err)
		metrics.ObserveNotification("deliver", "error")
		r.logger.Error("failed to send notification",
			slog.String("email", env.Email),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.ObserveNotification("deliver", "success")
	r.logger.Info("notification sent", slog.String("email", env.Email))
	if r.dedup != nil {
		if err := r.dedup.Remember(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("failed to record delivery", slog.String("error", err.Error()))
		}
	}
}

// Close closes the underlying reader
func (r *Relay) Close() error {
	return r.reader.Close()
}
