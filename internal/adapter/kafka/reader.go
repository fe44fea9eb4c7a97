package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/config"
	"github.com/citypulse/traffic-stream-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes traffic record messages from the topic as part of a
// consumer group. It implements consumer.Extractor.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a consumer-group reader for the configured topic.
// KafkaStartOffset only applies on the group's first run; afterwards the
// committed offset wins.
func NewReader(cfg *config.Config, tlsCfg *tls.Config, logger *slog.Logger) *Reader {
	startOffset := kafkago.FirstOffset
	if cfg.KafkaStartOffset == "latest" {
		startOffset = kafkago.LastOffset
	}

	readerCfg := kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	if tlsCfg != nil {
		readerCfg.Dialer = &kafkago.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			TLS:       tlsCfg,
		}
	}

	return &Reader{
		reader:        kafkago.NewReader(readerCfg),
		flushInterval: cfg.BatchFlushInterval,
		logger:        logger,
	}
}

// ExtractBatch reads up to batchSize messages. The first fetch blocks until a
// message arrives or ctx is cancelled; subsequent fetches stop accumulating
// after the flush interval so a slow topic never stalls a partial batch.
// Offsets are NOT committed here; each RawMessage carries a Commit callback
// the consumer invokes only after a successful store upsert.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]domain.RawMessage, 0, batchSize)
	batch = append(batch, r.mapMessage(first))

	deadline, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			// Return what we have; the failure will resurface on the next call.
			r.logger.Warn("batch fetch interrupted", "error", err)
			break
		}
		batch = append(batch, r.mapMessage(msg))
	}

	return batch, nil
}

func (r *Reader) mapMessage(msg kafkago.Message) domain.RawMessage {
	return domain.RawMessage{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Commit: func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		},
	}
}

// Close releases the group membership and underlying connections.
func (r *Reader) Close() error {
	return r.reader.Close()
}
