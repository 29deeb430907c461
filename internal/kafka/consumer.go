package kafka

import (
	"context"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/model"
	"github.com/stakemetrics/query-cost-api/internal/observability"
)

// MessageReader abstracts the kafka reader for testability.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// EstimateInserter abstracts the store dependency for testability.
type EstimateInserter interface {
	InsertEstimate(ctx context.Context, est model.Estimate) error
	InsertEstimates(ctx context.Context, ests []model.Estimate) error
}

// Consumer reads query submissions from a Kafka topic, prices them, and
// persists the resulting estimates.
type Consumer struct {
	reader    MessageReader
	store     EstimateInserter
	estimator cost.Estimator
	topic     string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewConsumer creates a consumer that reads from the given topic and records
// one estimate per submission.
func NewConsumer(brokers []string, topic, groupID string, estimator cost.Estimator, s EstimateInserter, m *observability.Metrics, logger *slog.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10 MB
	})
	return &Consumer{
		reader:    reader,
		store:     s,
		estimator: estimator,
		topic:     topic,
		logger:    logger,
		metrics:   m,
	}
}

// Run consumes messages until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started", "topic", c.topic)
	c.metrics.KafkaConsumerRunning.WithLabelValues(c.topic).Set(1)
	defer c.metrics.KafkaConsumerRunning.WithLabelValues(c.topic).Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.KafkaConsumerErrors.WithLabelValues(c.topic, "fetch").Inc()
			c.logger.Error("fetch kafka message", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if c.handleMessage(ctx, msg) {
			return nil
		}
	}
}

// handleMessage processes a single message and reports whether the consumer
// should stop.
func (c *Consumer) handleMessage(ctx context.Context, msg kafkago.Message) bool {
	sub, err := decodeSubmission(msg.Value)
	if err != nil {
		c.logger.Error("drop invalid submission", "error", err, "offset", msg.Offset)
		c.metrics.KafkaConsumerErrors.WithLabelValues(c.topic, invalidReason(err)).Inc()
		// Commit bad messages so they are not redelivered as poison pills.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit offset after invalid submission", "error", err)
		}
		return false
	}

	if ctx.Err() != nil {
		return true
	}

	est := priceSubmission(ctx, c.estimator, c.metrics, sub)

	if err := c.store.InsertEstimate(ctx, est); err != nil {
		c.logger.Error("insert estimate", "error", err, "id", est.ID)
		c.metrics.KafkaConsumerErrors.WithLabelValues(c.topic, "insert").Inc()
		// No commit: the message is redelivered and retried on the next run.
		return ctx.Err() != nil
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("commit offset", "error", err, "id", est.ID)
	}

	c.metrics.KafkaMessagesConsumed.WithLabelValues(c.topic).Inc()
	c.logger.Debug("recorded estimate", "id", est.ID, "status", est.Status, "total_cost", est.TotalCost)
	return false
}

// Close shuts down the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
