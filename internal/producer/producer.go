// Package producer polls the external traffic API and publishes normalized
// records onto the durable topic. It never writes to the store directly;
// everything it emits reaches the store through the consumer.
package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// SnapshotFetcher pulls the current segment snapshot from the traffic API.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) ([]domain.RawObservation, error)
}

// Publisher writes records to the topic, returning how many were
// acknowledged by the broker.
type Publisher interface {
	PublishBatch(ctx context.Context, records []domain.TrafficRecord) (int, error)
}

// Producer runs the fetch-normalize-publish loop on a fixed interval.
type Producer struct {
	fetcher      SnapshotFetcher
	publisher    Publisher
	logger       *slog.Logger
	metrics      *observability.Metrics
	clock        clockwork.Clock
	pollInterval time.Duration
	fetchTimeout time.Duration
}

// New creates a Producer. The clock is injectable so tests can drive the
// poll ticker with a fake.
func New(fetcher SnapshotFetcher, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics,
	clock clockwork.Clock, pollInterval, fetchTimeout time.Duration) *Producer {
	return &Producer{
		fetcher:      fetcher,
		publisher:    publisher,
		logger:       logger,
		metrics:      metrics,
		clock:        clock,
		pollInterval: pollInterval,
		fetchTimeout: fetchTimeout,
	}
}

// Run polls until the context is cancelled. The first cycle fires
// immediately; later cycles follow the configured interval. A cycle in
// flight when cancellation arrives finishes its publish before Run returns,
// so no cycle is left half-applied.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("producer started", "interval", p.pollInterval)
	p.metrics.ProducerRunning.Set(1)
	defer p.metrics.ProducerRunning.Set(0)

	p.cycle(ctx)

	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("producer stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.cycle(ctx)
		}
	}
}

// cycle performs one fetch-normalize-publish pass. A failed fetch is treated
// as an empty snapshot; a publish failure for some records does not block
// the rest of the batch.
func (p *Producer) cycle(ctx context.Context) {
	start := p.clock.Now()
	defer func() {
		p.metrics.PollDuration.Observe(p.clock.Since(start).Seconds())
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	observations, err := p.fetcher.FetchSnapshot(fetchCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.FetchErrors.Inc()
		p.logger.Warn("snapshot fetch failed, treating as empty", "error", err)
		return
	}

	now := p.clock.Now()
	records := make([]domain.TrafficRecord, 0, len(observations))
	for _, obs := range observations {
		rec, err := obs.Normalize(domain.SourceStream, now)
		if err != nil {
			p.metrics.ValidationSkips.WithLabelValues("producer").Inc()
			p.logger.Debug("skipping observation", "segment_id", obs.SegmentID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		p.logger.Debug("no publishable records this cycle", "raw", len(observations))
		return
	}

	published, err := p.publisher.PublishBatch(ctx, records)
	p.metrics.RecordsPublished.Add(float64(published))
	if err != nil {
		failed := len(records) - published
		p.metrics.PublishErrors.Add(float64(failed))
		p.logger.Error("publish cycle incomplete",
			"published", published, "failed", failed, "error", err)
		return
	}

	p.logger.Info("cycle published", "records", published, "skipped", len(observations)-len(records))
}
