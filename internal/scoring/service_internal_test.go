package scoring

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/features"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type swapStore struct {
	records []domain.TrafficRecord
}

func (s *swapStore) RecentRecords(context.Context, time.Time) ([]domain.TrafficRecord, error) {
	return s.records, nil
}

func (s *swapStore) LatestPerSegment(context.Context) ([]domain.TrafficRecord, error) {
	return nil, nil
}

func (s *swapStore) SpeedSeries(context.Context, string) ([]domain.SpeedPoint, error) {
	return nil, nil
}

func (s *swapStore) Streets(context.Context, int) ([]string, error) { return nil, nil }

// --- tests ---

// A caller that fetched a session just before a retrain sees it go stale
// under it; the successor is installed before the predecessor is retired, so
// one refetch must find a ready session.
func TestStaleRetryFindsSuccessorSession(t *testing.T) {
	svc := newSwapService(t)
	ctx := context.Background()

	svc.retrain(ctx)
	held, err := svc.session()
	require.NoError(t, err)

	svc.retrain(ctx)

	vec := features.Vector{Length: 1.2, BusCount: 8, RollingAvgSpeed: 8}
	_, perr := held.Predict(vec)
	var notReady *domain.ModelNotReadyError
	require.ErrorAs(t, perr, &notReady)
	require.Equal(t, "stale", notReady.State)

	fresh, ok := svc.staleRetry(perr, held)
	require.True(t, ok)
	require.NotSame(t, held, fresh)

	_, err = fresh.Predict(vec)
	assert.NoError(t, err)
}

func TestStaleRetryIgnoresOtherFailures(t *testing.T) {
	svc := newSwapService(t)
	ctx := context.Background()

	svc.retrain(ctx)
	held, err := svc.session()
	require.NoError(t, err)

	// Unrelated errors and non-stale states never trigger a refetch, and
	// neither does a stale report while held is still the current session.
	_, ok := svc.staleRetry(errors.New("store down"), held)
	assert.False(t, ok)
	_, ok = svc.staleRetry(&domain.ModelNotReadyError{State: "untrained"}, held)
	assert.False(t, ok)
	_, ok = svc.staleRetry(&domain.ModelNotReadyError{State: "stale"}, held)
	assert.False(t, ok)
}

// --- helpers ---

func newSwapService(t *testing.T) *Service {
	t.Helper()
	base := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	var recs []domain.TrafficRecord
	for i := 0; i < 10; i++ {
		recs = append(recs, domain.TrafficRecord{
			SegmentID: "101", Street: "State St",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Speed:     8, Length: 1.2, BusCount: 8, Source: domain.SourceStream,
		}, domain.TrafficRecord{
			SegmentID: "202", Street: "Western Ave",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Speed:     33, Length: 1.2, BusCount: 1, Source: domain.SourceStream,
		})
	}
	return New(&swapStore{records: recs}, nil, slog.Default(), observability.NewMetricsForTesting(),
		clockwork.NewFakeClock(), Options{
			Deriver:         features.NewDeriver(20.0, 5),
			MinTrainingRows: 10,
			MinHistory:      10,
			RetrainInterval: 5 * time.Minute,
		})
}
