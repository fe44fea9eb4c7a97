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

// Writer publishes traffic records to the topic. It implements
// producer.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a producer for the configured topic. RequireAll means a
// cycle only counts a record as published once the broker has acknowledged it.
func NewWriter(cfg *config.Config, tlsCfg *tls.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	if tlsCfg != nil {
		w.Transport = &kafkago.Transport{
			TLS:         tlsCfg,
			DialTimeout: 10 * time.Second,
		}
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes records keyed by segment_id in a
// single WriteMessages call. A failure for one record does not block the
// rest: kafka-go reports per-message outcomes, and PublishBatch returns the
// number acknowledged along with the first error encountered.
func (w *Writer) PublishBatch(ctx context.Context, records []domain.TrafficRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	msgs := make([]kafkago.Message, 0, len(records))
	for _, rec := range records {
		msg, err := recordToMessage(rec)
		if err != nil {
			w.logger.Warn("skipping unserializable record", "segment_id", rec.SegmentID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	err := w.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return len(msgs), nil
	}

	// WriteErrors carries one slot per message; count the acknowledged ones
	// so a single bad record does not void the whole cycle.
	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) {
		published := 0
		for i, werr := range writeErrs {
			if werr == nil {
				published++
				continue
			}
			w.logger.Warn("publish failed for record",
				"segment_id", string(msgs[i].Key), "error", werr)
		}
		return published, err
	}

	return 0, err
}

// recordToMessage serializes one record into a topic message keyed by its
// segment ID, so all observations for a segment land on one partition.
func recordToMessage(rec domain.TrafficRecord) (kafkago.Message, error) {
	value, err := domain.MarshalRecord(rec)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   rec.Key(),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(rec.Source)},
		},
	}, nil
}

// Close flushes pending writes and releases connections.
func (w *Writer) Close() error {
	return w.writer.Close()
}
