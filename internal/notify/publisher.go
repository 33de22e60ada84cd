package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/reliability/retry"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the producing half of a Kafka client
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for topic on brokers
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// Publisher hands envelopes to Kafka in the background. Publish never blocks
// the caller; failures are logged and counted once retries are exhausted.
type Publisher struct {
	writer  MessageWriter
	retry   *retry.Config
	timeout time.Duration
	logger  *slog.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a publisher. retryCfg may be nil for the defaults.
func NewPublisher(writer MessageWriter, retryCfg *retry.Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &Publisher{writer: writer, retry: retryCfg, timeout: 10 * time.Second, logger: logger}
}

// Publish queues a notification for email
func (p *Publisher) Publish(email, message string) {
	value, err := json.Marshal(Envelope{Email: email, Message: message})
	if err != nil {
		metrics.ObserveNotification("publish", "error")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.ObserveNotification("publish", "dropped")
		p.logger.Warn("notification dropped, publisher closed", slog.String("email", email))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := retry.Do(ctx, p.retry, p.logger, "notification publish", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(email), Value: value})
		})
		if err != nil {
			metrics.ObserveNotification("publish", "error")
			p.logger.Error("failed to publish notification",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.ObserveNotification("publish", "success")
	}()
}

// Close waits for in-flight publishes and closes the writer
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return p.writer.Close()
}
