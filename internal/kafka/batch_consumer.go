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

// batchItem holds a fetched Kafka message and its decoded submission.
type batchItem struct {
	msg        kafkago.Message
	submission *model.QuerySubmission
	err        error // non-nil if decoding failed (poison pill)
}

// BatchConsumer reads query submissions from Kafka in batches, prices them,
// and persists the estimates in a single round trip.
type BatchConsumer struct {
	reader        MessageReader
	store         EstimateInserter
	estimator     cost.Estimator
	topic         string
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewBatchConsumer creates a batch consumer with time-bounded fetching.
func NewBatchConsumer(
	brokers []string,
	topic, groupID string,
	batchSize int,
	flushInterval time.Duration,
	estimator cost.Estimator,
	s EstimateInserter,
	m *observability.Metrics,
	logger *slog.Logger,
) *BatchConsumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10 MB
	})
	return &BatchConsumer{
		reader:        reader,
		store:         s,
		estimator:     estimator,
		topic:         topic,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		metrics:       m,
	}
}

// Run consumes messages in batches until the context is cancelled.
func (bc *BatchConsumer) Run(ctx context.Context) error {
	bc.logger.Info("kafka batch consumer started",
		"topic", bc.topic, "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
	bc.metrics.KafkaConsumerRunning.WithLabelValues(bc.topic).Set(1)
	defer bc.metrics.KafkaConsumerRunning.WithLabelValues(bc.topic).Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		items, err := bc.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "fetch_batch").Inc()
			bc.logger.Error("fetch batch", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if len(items) == 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		bc.processBatch(ctx, items)
	}
}

// fetchBatch collects up to batchSize messages or until flushInterval elapses.
func (bc *BatchConsumer) fetchBatch(ctx context.Context) ([]batchItem, error) {
	start := time.Now()
	defer func() {
		bc.metrics.KafkaBatchDuration.WithLabelValues(bc.topic, "fetch").Observe(time.Since(start).Seconds())
	}()

	items := make([]batchItem, 0, bc.batchSize)
	deadline := time.Now().Add(bc.flushInterval)

	for len(items) < bc.batchSize {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			break
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		msg, err := bc.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				// Parent context cancelled: return what we have.
				break
			}
			if fetchCtx.Err() == context.DeadlineExceeded {
				// Flush interval expired: return the partial batch.
				break
			}
			return nil, err
		}

		sub, decodeErr := decodeSubmission(msg.Value)
		items = append(items, batchItem{msg: msg, submission: sub, err: decodeErr})
	}

	bc.metrics.KafkaBatchSize.WithLabelValues(bc.topic).Observe(float64(len(items)))
	return items, nil
}

// processBatch prices valid submissions, batch-inserts the estimates, and
// commits offsets.
func (bc *BatchConsumer) processBatch(ctx context.Context, items []batchItem) {
	start := time.Now()
	defer func() {
		bc.metrics.KafkaBatchDuration.WithLabelValues(bc.topic, "process").Observe(time.Since(start).Seconds())
	}()

	var ests []model.Estimate
	var validMsgs []kafkago.Message
	var poisonMsgs []kafkago.Message

	for i := range items {
		if items[i].err != nil {
			bc.logger.Error("drop invalid submission in batch", "error", items[i].err, "offset", items[i].msg.Offset)
			bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, invalidReason(items[i].err)).Inc()
			poisonMsgs = append(poisonMsgs, items[i].msg)
			continue
		}
		ests = append(ests, priceSubmission(ctx, bc.estimator, bc.metrics, items[i].submission))
		validMsgs = append(validMsgs, items[i].msg)
	}

	// Commit poison pills so Kafka does not redeliver them forever. Bad
	// messages are logged above for manual investigation.
	if len(poisonMsgs) > 0 {
		if err := bc.reader.CommitMessages(ctx, poisonMsgs...); err != nil {
			bc.logger.Error("commit poison pills", "error", err, "count", len(poisonMsgs))
		}
	}

	if len(ests) == 0 {
		return
	}

	if err := bc.store.InsertEstimates(ctx, ests); err != nil {
		bc.logger.Error("batch insert estimates", "error", err, "count", len(ests))
		bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "batch_insert").Inc()
		return
	}

	if err := bc.reader.CommitMessages(ctx, validMsgs...); err != nil {
		bc.logger.Error("commit batch offsets", "error", err, "count", len(validMsgs))
	}

	bc.metrics.KafkaMessagesConsumed.WithLabelValues(bc.topic).Add(float64(len(ests)))
	bc.logger.Debug("recorded estimate batch", "count", len(ests))
}

// Close shuts down the underlying Kafka reader.
func (bc *BatchConsumer) Close() error {
	return bc.reader.Close()
}
