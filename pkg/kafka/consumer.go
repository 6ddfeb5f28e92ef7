package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MessageHandler processes a parsed trigger message
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// ErrPermanent marks a handler failure that retrying cannot fix. Such messages are committed.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the consumer commits the message instead of leaving it for redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// Consumer handles Kafka message consumption
type Consumer struct {
	reader  messageReader
	logger  ectologger.Logger
	handler MessageHandler
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// retryDelay is the wait before retry attempt n of a failed trigger
	retryDelay func(attempt int) time.Duration
	running    atomic.Bool
}

const maxRetryDelay = 30 * time.Second

// backoff doubles from one second up to maxRetryDelay.
func backoff(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       1e6, // 1MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // commits are synchronous
	})

	return &Consumer{
		reader:     reader,
		logger:     logger,
		handler:    handler,
		retryDelay: backoff,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.running.Store(true)
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.reader.Config().Topic,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			c.logger.WithContext(ctx).Info("Consumer loop stopping")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
				continue
			}

			c.processMessage(ctx, msg)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	// continue the producer's trace when it sent one
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))

	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	incoming := &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}

	if err := incoming.ParseTrigger(); err != nil {
		log.WithError(err).Warn("Skipping message that is not a dedup trigger")
		metrics.TriggerMessagesTotal.WithLabelValues("skipped").Inc()
		// Still commit to avoid getting stuck
		c.commit(ctx, log, msg)
		return
	}

	// Group offsets are cumulative, so a failed trigger is retried in place. Fetching past it
	// would let the next commit skip it.
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, incoming)
		if err == nil {
			metrics.TriggerMessagesTotal.WithLabelValues("processed").Inc()
			c.commit(ctx, log, msg)
			return
		}
		if errors.Is(err, ErrPermanent) {
			log.WithError(err).Warn("Dropping trigger that cannot succeed")
			metrics.TriggerMessagesTotal.WithLabelValues("dropped").Inc()
			c.commit(ctx, log, msg)
			return
		}

		metrics.TriggerMessagesTotal.WithLabelValues("failed").Inc()
		delay := c.retryDelay(attempt)
		log.WithError(err).WithFields(map[string]any{
			"attempt":  attempt,
			"retry_in": delay.String(),
		}).Error("Failed to process trigger, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			// left uncommitted, the group resumes from this offset
			log.Warn("Consumer stopping with trigger uncommitted")
			return
		case <-timer.C:
		}
	}
}

func (c *Consumer) commit(ctx context.Context, log ectologger.Logger, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

// Health reports whether the consume loop is still running
func (c *Consumer) Health() bool {
	return c.running.Load()
}
