// Package consumer moves records from the durable topic into the store.
// Delivery is at-least-once: offsets are committed only after a successful
// upsert, and the store's upsert-by-key discipline makes any redelivery
// after a crash idempotent.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
)

// Retry policy for transient topic and store failures. Backoff starts at
// 200ms and doubles to a 5s cap; exhausting maxAttempts surfaces a fatal
// TransientIOError to the surrounding process.
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	maxAttempts    = 8
)

// Extractor reads up to batchSize raw messages from the topic.
type Extractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// Upserter is the store's single authoritative write path.
type Upserter interface {
	UpsertRecord(ctx context.Context, rec domain.TrafficRecord) error
}

// Consumer runs the extract-deserialize-upsert-commit loop.
type Consumer struct {
	extractor Extractor
	store     Upserter
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int

	processed atomic.Int64
	ready     atomic.Bool
}

// New creates a Consumer reading batches of up to batchSize messages.
func New(extractor Extractor, store Upserter, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Consumer {
	return &Consumer{
		extractor: extractor,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Processed reports how many records this run has upserted. Observability
// only — the counter resets on restart and is not authoritative state.
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// CheckReadiness returns nil once the consumer has applied at least one
// record in this run.
func (c *Consumer) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("consumer has not processed any records yet")
	}
	return nil
}

// Run consumes until the context is cancelled or retries are exhausted.
// An in-flight message is always finished — upsert then commit — before the
// loop observes cancellation, so shutdown never leaves a committed-but-
// unapplied or applied-but-uncommitted gap beyond what at-least-once allows.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "batch_size", c.batchSize)
	c.metrics.ConsumerRunning.Set(1)
	defer c.metrics.ConsumerRunning.Set(0)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		batch, err := c.extractBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, msg := range batch {
			if err := c.apply(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// extractBatch fetches the next batch with bounded retry.
func (c *Consumer) extractBatch(ctx context.Context) ([]domain.RawMessage, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		batch, err := c.extractor.ExtractBatch(ctx, c.batchSize)
		if err == nil {
			return batch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Warn("extract failed, backing off",
			"attempt", attempt, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}

	return nil, &domain.TransientIOError{Op: "extract batch", Attempts: maxAttempts, Err: lastErr}
}

// apply deserializes one message, upserts it, and commits its offset.
// Commit strictly follows the successful upsert: a crash in between means
// the message is redelivered, and the upsert key absorbs the replay.
// A message that cannot be deserialized is skipped and its offset committed
// so it cannot poison the loop.
func (c *Consumer) apply(ctx context.Context, msg domain.RawMessage) error {
	rec, err := domain.UnmarshalRecord(msg.Value)
	if err != nil {
		c.metrics.ConsumeSkips.Inc()
		c.metrics.ValidationSkips.WithLabelValues("consumer").Inc()
		c.logger.Warn("skipping undecodable message",
			"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		c.commit(ctx, msg)
		return nil
	}

	if err := c.upsertWithRetry(ctx, rec); err != nil {
		return err
	}

	c.commit(ctx, msg)
	c.processed.Add(1)
	c.metrics.RecordsConsumed.Inc()
	c.ready.Store(true)
	return nil
}

func (c *Consumer) upsertWithRetry(ctx context.Context, rec domain.TrafficRecord) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := c.store.UpsertRecord(ctx, rec)
		c.metrics.UpsertDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		c.metrics.UpsertErrors.Inc()
		c.logger.Warn("upsert failed, backing off",
			"segment_id", rec.SegmentID, "attempt", attempt, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}

	return &domain.TransientIOError{Op: "upsert record", Attempts: maxAttempts, Err: lastErr}
}

// commit acknowledges the message's offset. A commit failure is logged, not
// fatal: the message will be redelivered and the upsert key deduplicates it.
func (c *Consumer) commit(ctx context.Context, msg domain.RawMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		c.logger.Warn("offset commit failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
