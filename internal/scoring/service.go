// Package scoring owns the retrain cadence and serves inference results.
// Each retrain builds a private ml.Session from the current store contents
// and atomically replaces the served session only once the new one is
// ready; the superseded session is marked stale and never mutated again.
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/features"
	"github.com/citypulse/traffic-stream-etl/internal/ml"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// RecordSource provides the store reads scoring depends on.
type RecordSource interface {
	ml.SeriesSource
	RecentRecords(ctx context.Context, since time.Time) ([]domain.TrafficRecord, error)
	LatestPerSegment(ctx context.Context) ([]domain.TrafficRecord, error)
	Streets(ctx context.Context, minObservations int) ([]string, error)
}

// ScorePublisher pushes fresh segment scores out to the dashboard channel.
type ScorePublisher interface {
	PublishScores(ctx context.Context, scores []domain.SegmentScore) int
}

// Options configures a scoring service.
type Options struct {
	Deriver         *features.Deriver
	MinTrainingRows int
	MinHistory      int
	RetrainInterval time.Duration
	TrainingWindow  time.Duration // how far back training reads; zero means all history
}

// Service runs the retrain loop and answers dashboard queries.
type Service struct {
	store     RecordSource
	publisher ScorePublisher // nil when Redis publishing is disabled
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	opts      Options

	mu       sync.RWMutex
	current  *ml.Session
	accuracy float64 // training-set accuracy of current
}

// New creates a scoring service. publisher may be nil.
func New(store RecordSource, publisher ScorePublisher, logger *slog.Logger, metrics *observability.Metrics,
	clock clockwork.Clock, opts Options) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		opts:      opts,
	}
}

// Run retrains immediately, then on every retrain interval, until the
// context is cancelled. A failed retrain leaves the previous ready session
// serving.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("scoring service started", "retrain_interval", s.opts.RetrainInterval)

	s.retrain(ctx)

	ticker := s.clock.NewTicker(s.opts.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scoring service stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.retrain(ctx)
		}
	}
}

// retrain builds and trains a fresh session from the store, swaps it in if
// training succeeds, and publishes updated scores.
func (s *Service) retrain(ctx context.Context) {
	start := s.clock.Now()
	defer func() {
		s.metrics.TrainingDuration.Observe(s.clock.Since(start).Seconds())
	}()

	records, err := s.store.RecentRecords(ctx, s.windowStart())
	if err != nil {
		s.metrics.TrainingRuns.WithLabelValues("error").Inc()
		s.logger.Error("retrain read failed", "error", err)
		return
	}

	examples := s.opts.Deriver.TrainingSet(records)
	session := ml.NewSession(s.store, s.opts.MinHistory)
	if err := session.Train(examples, s.opts.MinTrainingRows); err != nil {
		var insufficient *domain.InsufficientDataError
		if errors.As(err, &insufficient) {
			s.metrics.TrainingRuns.WithLabelValues("insufficient_data").Inc()
			s.logger.Warn("retrain skipped", "error", err)
		} else {
			s.metrics.TrainingRuns.WithLabelValues("error").Inc()
			s.logger.Error("retrain failed", "error", err)
		}
		return
	}

	// Training-set accuracy, matching what the dashboard displays.
	accuracy, err := session.Evaluate(examples)
	if err != nil {
		s.metrics.TrainingRuns.WithLabelValues("error").Inc()
		s.logger.Error("retrain evaluation failed", "error", err)
		return
	}

	s.mu.Lock()
	previous := s.current
	s.current = session
	s.accuracy = accuracy
	s.mu.Unlock()
	if previous != nil {
		previous.MarkStale()
	}

	s.metrics.TrainingRuns.WithLabelValues("success").Inc()
	s.metrics.ModelReady.Set(1)
	s.metrics.ModelAccuracy.Set(accuracy)
	s.logger.Info("session retrained",
		"examples", len(examples), "records", len(records), "accuracy", accuracy)

	s.publishScores(ctx)
}

// windowStart bounds store reads to the configured training window; a zero
// time reads all history.
func (s *Service) windowStart() time.Time {
	if s.opts.TrainingWindow > 0 {
		return s.clock.Now().Add(-s.opts.TrainingWindow)
	}
	return time.Time{}
}

// publishScores pushes the new session's scores for every segment's latest
// observation. Best-effort: failures are logged by the publisher.
func (s *Service) publishScores(ctx context.Context) {
	if s.publisher == nil {
		return
	}

	scores, err := s.ScoreSegments(ctx)
	if err != nil {
		s.logger.Warn("score publication skipped", "error", err)
		return
	}
	published := s.publisher.PublishScores(ctx, scores)
	s.metrics.ScoresPublished.Add(float64(published))
}

// session returns the currently served session, or a ModelNotReadyError
// before the first successful retrain.
func (s *Service) session() (*ml.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, &domain.ModelNotReadyError{State: ml.StateUntrained.String()}
	}
	return s.current, nil
}

// ScoreSegments classifies every segment's newest observation. Vectors are
// derived from the same trailing history window the session was trained on,
// so the rolling average a segment is scored with spans its recent
// observations, not just the newest row.
func (s *Service) ScoreSegments(ctx context.Context) ([]domain.SegmentScore, error) {
	session, err := s.session()
	if err != nil {
		return nil, err
	}

	records, err := s.store.RecentRecords(ctx, s.windowStart())
	if err != nil {
		return nil, err
	}
	vectors := s.opts.Deriver.LatestVectors(records)
	latest := latestPerSegment(records)

	now := s.clock.Now().UTC()
	scores := make([]domain.SegmentScore, 0, len(latest))
	for _, rec := range latest {
		vec, ok := vectors[rec.SegmentID]
		if !ok {
			continue
		}
		pred, err := session.Predict(vec)
		if err != nil {
			if fresh, ok := s.staleRetry(err, session); ok {
				session = fresh
				pred, err = session.Predict(vec)
			}
			if err != nil {
				return nil, err
			}
		}
		scores = append(scores, domain.SegmentScore{
			SegmentID:  rec.SegmentID,
			Street:     rec.Street,
			Speed:      rec.Speed,
			Congested:  pred.Congested,
			Confidence: pred.Confidence,
			ScoredAt:   now,
		})
	}
	return scores, nil
}

// latestPerSegment keeps each segment's newest observation, ordered by
// segment ID for stable output.
func latestPerSegment(records []domain.TrafficRecord) []domain.TrafficRecord {
	latest := make(map[string]domain.TrafficRecord, len(records))
	for _, rec := range records {
		if cur, ok := latest[rec.SegmentID]; !ok || rec.Timestamp.After(cur.Timestamp) {
			latest[rec.SegmentID] = rec
		}
	}
	out := make([]domain.TrafficRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out
}

// staleRetry returns the successor session when err reports that the session
// a caller holds was retired under it. The swap installs the successor
// before the predecessor is marked stale, so a single refetch finds a ready
// session.
func (s *Service) staleRetry(err error, held *ml.Session) (*ml.Session, bool) {
	var notReady *domain.ModelNotReadyError
	if !errors.As(err, &notReady) || notReady.State != ml.StateStale.String() {
		return nil, false
	}
	fresh, ferr := s.session()
	if ferr != nil || fresh == held {
		return nil, false
	}
	return fresh, true
}

// Forecast serves a street's forward speed sequence from the current
// session.
func (s *Service) Forecast(ctx context.Context, street string, horizon int) (domain.StreetForecast, error) {
	session, err := s.session()
	if err != nil {
		return domain.StreetForecast{}, err
	}
	fc, err := session.Forecast(ctx, street, horizon)
	if err != nil {
		if fresh, ok := s.staleRetry(err, session); ok {
			fc, err = fresh.Forecast(ctx, street, horizon)
		}
		if err != nil {
			return domain.StreetForecast{}, err
		}
	}
	s.metrics.ForecastsServed.Inc()
	return fc, nil
}

// ModelAccuracy reports the served session's training-set accuracy. Zero
// before the first successful retrain; callers gate on readiness first.
func (s *Service) ModelAccuracy() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accuracy
}

// ForecastableStreets lists streets with enough history to fit a model.
func (s *Service) ForecastableStreets(ctx context.Context) ([]string, error) {
	return s.store.Streets(ctx, s.opts.MinHistory)
}

// LatestSegments exposes the store's newest observation per segment for
// dashboard listing.
func (s *Service) LatestSegments(ctx context.Context) ([]domain.TrafficRecord, error) {
	return s.store.LatestPerSegment(ctx)
}

// CheckReadiness reports whether a trained session is being served.
func (s *Service) CheckReadiness(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.State() != ml.StateReady {
		return errors.New("no trained scoring session yet")
	}
	return nil
}
